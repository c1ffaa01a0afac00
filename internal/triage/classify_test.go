package triage

import "testing"

func TestClassify_Table(t *testing.T) {
	t.Parallel()

	low := Decision{ActionTaken: ActionAutoClose, StatusUpdate: StatusClosed}
	medium := Decision{ActionTaken: ActionMonitor, StatusUpdate: StatusOpen}
	high := Decision{
		ActionTaken:          ActionEscalate,
		StatusUpdate:         StatusInvestigating,
		Escalate:             true,
		NotificationRequired: true,
		NotificationType:     NotifyCritical,
	}

	tests := []struct {
		severity int
		want     Decision
	}{
		{0, low},
		{1, low},
		{2, low},
		{3, medium},
		{4, high},
		{5, high},
		{-3, low},
		{9, high},
	}

	for _, tt := range tests {
		if got := Classify(tt.severity); got != tt.want {
			t.Errorf("Classify(%d) = %+v, want %+v", tt.severity, got, tt.want)
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	t.Parallel()

	for sev := 0; sev <= 5; sev++ {
		first := Classify(sev)
		for range 3 {
			if got := Classify(sev); got != first {
				t.Fatalf("Classify(%d) not deterministic: %+v vs %+v", sev, got, first)
			}
		}
	}
}
