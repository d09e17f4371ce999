package worker

import (
	"time"

	"rpimash/core-go/internal/inventory"
)

// Snapshot is the loop state published after every iteration. It never
// carries credentials.
type Snapshot struct {
	UpdatedAt     time.Time                `json:"updated_at"`
	Online        bool                     `json:"online"`
	NextReport    *time.Time               `json:"next_report,omitempty"`
	NextChange    *time.Time               `json:"next_change,omitempty"`
	NextPrewarn   *time.Time               `json:"next_prewarn,omitempty"`
	HasWarned     bool                     `json:"has_warned"`
	CredentialSet bool                     `json:"credential_set"`
	LastAction    string                   `json:"last_action,omitempty"`
	LastActionAt  *time.Time               `json:"last_action_at,omitempty"`
	LastError     string                   `json:"last_error,omitempty"`
	Faults        int                      `json:"faults"`
	Devices       []inventory.DeviceRecord `json:"devices"`
}

// Snapshot returns the latest published state, or nil before the first
// iteration.
func (w *Worker) Snapshot() *Snapshot {
	return w.snapshot.Load()
}

func (w *Worker) publish(online bool) {
	st := w.sched.State()
	last := w.sched.Last()

	s := &Snapshot{
		UpdatedAt:     w.clock.Now().UTC(),
		Online:        online,
		NextReport:    epochTime(st.ReportEpoch),
		NextChange:    epochTime(st.PasswordChangeEpoch),
		NextPrewarn:   epochTime(st.PasswordPrewarnEpoch),
		HasWarned:     st.HasWarned,
		CredentialSet: st.CurrentCredential != "",
		Faults:        w.faultCount,
		Devices:       w.inventory.Devices(),
	}
	if !last.At.IsZero() {
		at := last.At.UTC()
		s.LastAction = last.Kind.String()
		s.LastActionAt = &at
		s.LastError = last.Error
	}
	if s.Devices == nil {
		s.Devices = []inventory.DeviceRecord{}
	}
	w.snapshot.Store(s)
}

func epochTime(epoch int64) *time.Time {
	if epoch == 0 {
		return nil
	}
	t := time.Unix(epoch, 0).UTC()
	return &t
}
