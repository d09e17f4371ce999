// Package config loads settings.cfg, the key=value file that describes
// the managed wireless unit, the rotation cadence and the notification
// recipients.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var ErrMissingFile = errors.New("configuration file not found")

// Multiplier is the number of seconds in one frequency unit.
type Multiplier int

const (
	MultiplierMinutes Multiplier = 60
	MultiplierHours   Multiplier = 3600
	MultiplierDays    Multiplier = 86400
)

func ParseMultiplier(s string) (Multiplier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "days":
		return MultiplierDays, nil
	case "hours":
		return MultiplierHours, nil
	case "minutes":
		return MultiplierMinutes, nil
	default:
		return 0, fmt.Errorf("multiplier must be one of days, hours or minutes (got %q)", s)
	}
}

func (m Multiplier) String() string {
	switch m {
	case MultiplierDays:
		return "days"
	case MultiplierHours:
		return "hours"
	case MultiplierMinutes:
		return "minutes"
	default:
		return strconv.Itoa(int(m)) + "s"
	}
}

var DefaultInterfaces = []int{4, 5, 6, 7, 12, 13, 14, 15}

type Settings struct {
	RuckusHost    string        `validate:"required_without=RuckusDevice"`
	RuckusDevice  string        `validate:"omitempty"`
	RuckusPort    int           `validate:"min=1,max=65535"`
	RuckusUser    string        `validate:"required"`
	RuckusPass    string        `validate:"omitempty"`
	RuckusTimeout time.Duration `validate:"gt=0"`
	Interfaces    []int         `validate:"min=1,dive,gte=0"`

	DeviceName     string `validate:"required"`
	MailToStatus   string `validate:"required"`
	MailToPassword string `validate:"required"`
	MailToError    string `validate:"omitempty"`
	NotifyURL      string `validate:"required"`

	Multiplier       Multiplier `validate:"oneof=60 3600 86400"`
	ReportFrequency  int        `validate:"gt=0"`
	ChangeFrequency  int        `validate:"gt=0"`
	PrewarnFrequency int        `validate:"gte=0"`

	StateBackend  string `validate:"oneof=file sqlite"`
	StatePath     string `validate:"required"`
	SNMPEnabled   bool
	SNMPCommunity string `validate:"required_if=SNMPEnabled true"`
	OnlineCheck   string `validate:"required,hostname_port"`

	TickInterval  time.Duration `validate:"gt=0"`
	FaultCooldown time.Duration `validate:"gt=0"`
	RetryInterval time.Duration `validate:"gt=0"`
}

// Defaults returns the settings used for any key settings.cfg omits.
func Defaults() Settings {
	return Settings{
		RuckusPort:    23,
		RuckusTimeout: 10 * time.Second,
		Interfaces:    append([]int(nil), DefaultInterfaces...),
		Multiplier:    MultiplierDays,
		StateBackend:  "file",
		StatePath:     "core.settings",
		SNMPCommunity: "public",
		OnlineCheck:   "8.8.8.8:53",
		TickInterval:  time.Minute,
		FaultCooldown: 2 * time.Minute,
		RetryInterval: 5 * time.Minute,
	}
}

var validate = validator.New()

// Load reads and validates the configuration file at path.
func Load(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Settings{}, fmt.Errorf("%w: %s", ErrMissingFile, path)
		}
		return Settings{}, err
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse reads key=value lines on top of Defaults. Blank lines and lines
// starting with '#' are skipped, unknown keys are ignored.
func Parse(r io.Reader) (Settings, error) {
	s := Defaults()

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Settings{}, fmt.Errorf("line %d: expected key=value", lineNo)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if err := s.set(key, value); err != nil {
			return Settings{}, fmt.Errorf("line %d: %s: %w", lineNo, key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return Settings{}, err
	}

	if err := validate.Struct(s); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func (s *Settings) set(key, value string) error {
	var err error
	switch key {
	case "rkshost":
		s.RuckusHost = value
	case "rksdevice":
		s.RuckusDevice = value
	case "rksport":
		s.RuckusPort, err = strconv.Atoi(value)
	case "rksuser":
		s.RuckusUser = value
	case "rkspass":
		s.RuckusPass = value
	case "rkstimeout":
		s.RuckusTimeout, err = seconds(value)
	case "rksinterfaces":
		s.Interfaces, err = intList(value)
	case "devicename":
		s.DeviceName = value
	case "mailtostatus":
		s.MailToStatus = value
	case "mailtopass":
		s.MailToPassword = value
	case "mailtoerror":
		s.MailToError = value
	case "notifyurl":
		s.NotifyURL = value
	case "multiplier":
		s.Multiplier, err = ParseMultiplier(value)
	case "reportfrequency":
		s.ReportFrequency, err = strconv.Atoi(value)
	case "passchangefrequency":
		s.ChangeFrequency, err = strconv.Atoi(value)
	case "passwarningfrequency":
		s.PrewarnFrequency, err = strconv.Atoi(value)
	case "statebackend":
		s.StateBackend = strings.ToLower(value)
	case "statepath":
		s.StatePath = value
	case "snmp":
		s.SNMPEnabled, err = onOff(value)
	case "snmpcommunity":
		s.SNMPCommunity = value
	case "onlinecheck":
		s.OnlineCheck = value
	case "tickinterval":
		s.TickInterval, err = seconds(value)
	case "faultcooldown":
		s.FaultCooldown, err = seconds(value)
	case "retryinterval":
		s.RetryInterval, err = seconds(value)
	}
	return err
}

// ErrorRecipient is where diagnostics go; it falls back to the status
// recipient when mailtoerror is not set.
func (s Settings) ErrorRecipient() string {
	if s.MailToError != "" {
		return s.MailToError
	}
	return s.MailToStatus
}

func seconds(v string) (time.Duration, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func intList(v string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func onOff(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0", "":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off (got %q)", v)
	}
}
