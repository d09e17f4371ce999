// Package schedule owns the credential lifecycle and the status report
// cadence. Every tick evaluates the stored epochs and runs at most one
// due action.
package schedule

import (
	"errors"
	"fmt"

	"rpimash/core-go/internal/config"
)

var ErrInvalidState = errors.New("invalid schedule state")

// State is the persisted scheduler record. Epochs are Unix seconds; zero
// means not yet scheduled.
type State struct {
	ReportEpoch          int64 `yaml:"report_epoch" json:"report_epoch"`
	PasswordChangeEpoch  int64 `yaml:"password_change_epoch" json:"password_change_epoch"`
	PasswordPrewarnEpoch int64 `yaml:"password_prewarn_epoch" json:"password_prewarn_epoch"`
	HasWarned            bool  `yaml:"has_warned" json:"has_warned"`

	CurrentCredential string `yaml:"current_credential,omitempty" json:"current_credential,omitempty"`
	NextCredential    string `yaml:"next_credential,omitempty" json:"next_credential,omitempty"`

	ReportFrequency  int               `yaml:"report_frequency" json:"report_frequency"`
	ChangeFrequency  int               `yaml:"change_frequency" json:"change_frequency"`
	PrewarnFrequency int               `yaml:"prewarn_frequency" json:"prewarn_frequency"`
	Multiplier       config.Multiplier `yaml:"multiplier" json:"multiplier"`
}

// NewState is the first-run record: all epochs zero, frequencies from cfg.
func NewState(cfg config.Settings) State {
	var s State
	s.ApplyFrequencies(cfg)
	return s
}

// ApplyFrequencies copies the configured frequencies into s and reports
// whether anything changed. Epochs are left alone.
func (s *State) ApplyFrequencies(cfg config.Settings) bool {
	changed := s.ReportFrequency != cfg.ReportFrequency ||
		s.ChangeFrequency != cfg.ChangeFrequency ||
		s.PrewarnFrequency != cfg.PrewarnFrequency ||
		s.Multiplier != cfg.Multiplier
	s.ReportFrequency = cfg.ReportFrequency
	s.ChangeFrequency = cfg.ChangeFrequency
	s.PrewarnFrequency = cfg.PrewarnFrequency
	s.Multiplier = cfg.Multiplier
	return changed
}

func (s State) Validate() error {
	if s.ReportEpoch < 0 || s.PasswordChangeEpoch < 0 {
		return fmt.Errorf("%w: negative epoch", ErrInvalidState)
	}
	if s.PasswordChangeEpoch != 0 && s.PasswordPrewarnEpoch != 0 && s.PasswordPrewarnEpoch > s.PasswordChangeEpoch {
		return fmt.Errorf("%w: prewarn epoch %d after change epoch %d", ErrInvalidState, s.PasswordPrewarnEpoch, s.PasswordChangeEpoch)
	}
	return nil
}

func CalculateChangeEpoch(now int64, changeFrequency int, m config.Multiplier) int64 {
	return now + int64(changeFrequency)*int64(m)
}

// CalculatePrewarnEpoch may return a value in the past, in which case the
// warning is due on the next tick.
func CalculatePrewarnEpoch(changeEpoch int64, prewarnFrequency int, m config.Multiplier) int64 {
	return changeEpoch - int64(prewarnFrequency)*int64(m)
}

func CalculateReportEpoch(now int64, reportFrequency int, m config.Multiplier) int64 {
	return now + int64(reportFrequency)*int64(m)
}
