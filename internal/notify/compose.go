package notify

import (
	"fmt"
	"strings"
	"time"

	"rpimash/core-go/internal/inventory"
)

// TimestampLayout renders times as dd/MM/yyyy - HH:mm.
const TimestampLayout = "02/01/2006 - 15:04"

func Timestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}

type StatusReport struct {
	DeviceName string
	Now        time.Time
	// LastBoot is the content of the boot marker, empty on first boot.
	LastBoot          string
	Boot              bool
	Devices           []inventory.DeviceRecord
	CurrentCredential string
}

func StatusReportMessage(to string, r StatusReport) Message {
	now := Timestamp(r.Now)
	lastBoot := r.LastBoot
	if lastBoot == "" {
		lastBoot = "N/A (This appears to be the first boot)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current time:\t%s\n", now)
	fmt.Fprintf(&b, "Last boot:\t\t%s\n", lastBoot)
	b.WriteString("\n[DEVICES]:\n\n")
	for _, d := range r.Devices {
		state := "OFFLINE"
		if d.Reachable {
			state = "online"
		}
		fmt.Fprintf(&b, "%s (%s) is %s", d.DisplayName, d.Address, state)
		if d.Description != "" {
			fmt.Fprintf(&b, " [%s]", d.Description)
		}
		b.WriteString("\n")
	}
	if r.CurrentCredential != "" {
		fmt.Fprintf(&b, "\nThe current password is %s\n", r.CurrentCredential)
	}

	subject := fmt.Sprintf("[MASH] %s status report", r.DeviceName)
	if r.Boot {
		subject = fmt.Sprintf("[BOOT] %s has booted at %s", r.DeviceName, now)
	}
	return Message{Kind: KindStatusReport, To: to, Subject: subject, Body: b.String()}
}

func PreWarningMessage(to, credential string, changeAt time.Time) Message {
	when := Timestamp(changeAt)
	var b strings.Builder
	b.WriteString("The public password will soon be changed, below are the new details you will require:\n\n")
	fmt.Fprintf(&b, "New Password: %s\n", credential)
	fmt.Fprintf(&b, "This password will be in effect at ~%s\n", when)
	return Message{
		Kind:    KindPreWarning,
		To:      to,
		Subject: fmt.Sprintf("[PASS] The public password will be changing at %s", when),
		Body:    b.String(),
	}
}

func ChangeConfirmationMessage(to, credential string, changedAt, nextChangeAt time.Time) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "The public password has been changed to: %s\n\n", credential)
	fmt.Fprintf(&b, "Time of change:\t%s\n", Timestamp(changedAt))
	fmt.Fprintf(&b, "The next change will occur at ~%s\n", Timestamp(nextChangeAt))
	return Message{
		Kind:    KindChangeConfirmation,
		To:      to,
		Subject: fmt.Sprintf("[PASS] The public password has been changed to %s", credential),
		Body:    b.String(),
	}
}

func CredentialNoticeMessage(to, credential string, bootedAt, nextChangeAt time.Time) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "The RPIMash unit has booted at %s\n\n", Timestamp(bootedAt))
	fmt.Fprintf(&b, "The current public password is: %s\n", credential)
	fmt.Fprintf(&b, "The next change will occur at ~%s\n", Timestamp(nextChangeAt))
	return Message{
		Kind:    KindCredentialNotice,
		To:      to,
		Subject: "[PASS] Public Ruckus password information",
		Body:    b.String(),
	}
}

func ErrorDiagnosticsMessage(to, report string) Message {
	return Message{
		Kind:    KindErrorDiagnostics,
		To:      to,
		Subject: "[ERROR] An exception has occurred!",
		Body:    report,
	}
}
