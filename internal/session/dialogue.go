package session

import (
	"fmt"
	"strings"
)

// maxMenuSelections bounds how often the encryption menu is requested for
// one interface before the session gives up.
const maxMenuSelections = 5

// step is the reaction to one chunk of device output.
type step int

const (
	stepSelectMenu step = iota
	stepSendDefault
	stepSendCredential
	stepInterfaceComplete
)

func (s step) String() string {
	switch s {
	case stepSelectMenu:
		return "select_menu"
	case stepSendDefault:
		return "send_default"
	case stepSendCredential:
		return "send_credential"
	case stepInterfaceComplete:
		return "interface_complete"
	default:
		return "unknown"
	}
}

// promptTable is checked in order; the first substring found in a chunk
// decides the step. Output matching nothing selects the encryption menu.
var promptTable = []struct {
	match string
	step  step
}{
	{"Wireless Encryption Type:", stepSendDefault},
	{"WPA Protocol Version:", stepSendDefault},
	{"WPA Authentication Type:", stepSendDefault},
	{"WPA Cipher Type:", stepSendDefault},
	{"WPA PassPhrase:", stepSendCredential},
	{"WPA no error", stepInterfaceComplete},
}

func classify(output string) step {
	for _, p := range promptTable {
		if strings.Contains(output, p.match) {
			return p.step
		}
	}
	return stepSelectMenu
}

type phase int

const (
	// phaseAwaitingPrompt: walking the encryption menu of the current interface.
	phaseAwaitingPrompt phase = iota
	// phaseAwaitingConfirmation: passphrase sent, waiting for "WPA no error".
	phaseAwaitingConfirmation
	phaseSessionComplete
)

const quitCommand = "quit"

func selectMenuCommand(id int) string {
	return fmt.Sprintf("set encryption wlan%d", id)
}

// reply is what the dialogue wants done after consuming one chunk.
type reply struct {
	send bool
	text string
	// completed is the interface that just finished, or -1.
	completed int
	done      bool
	err       error
}

func noReply() reply { return reply{completed: -1} }

func sendReply(text string) reply { return reply{send: true, text: text, completed: -1} }

// dialogue walks the ordered interface list with an explicit cursor.
// It has no I/O of its own; the engine feeds it device output.
type dialogue struct {
	interfaces []int
	credential string
	cursor     int
	phase      phase
	// pending is set while a reply is outstanding and no output has
	// arrived since; a quiet device is then still working, not idle.
	pending bool
	// selections counts menu commands sent for the current interface.
	selections int
}

func newDialogue(interfaces []int, credential string) *dialogue {
	return &dialogue{interfaces: interfaces, credential: credential}
}

func (d *dialogue) current() int { return d.interfaces[d.cursor] }

func (d *dialogue) complete() bool { return d.phase == phaseSessionComplete }

// feed consumes one chunk of output. A chunk holding only whitespace
// (an echoed blank reply, a bare newline) counts as the device being quiet.
func (d *dialogue) feed(output string) reply {
	if d.complete() {
		return noReply()
	}
	if strings.TrimSpace(output) == "" {
		return d.quiet()
	}
	d.pending = false

	st := classify(output)
	switch d.phase {
	case phaseAwaitingPrompt:
		switch st {
		case stepSendDefault:
			return d.send("")
		case stepSendCredential:
			d.phase = phaseAwaitingConfirmation
			return d.send(d.credential)
		case stepInterfaceComplete:
			// A confirmation we did not ask for; keep walking.
			return noReply()
		default:
			return d.selectMenu()
		}

	case phaseAwaitingConfirmation:
		switch st {
		case stepInterfaceComplete:
			return d.finishInterface()
		case stepSendDefault:
			return d.send("")
		case stepSendCredential:
			// Device asked again, the previous passphrase was refused.
			return d.send(d.credential)
		default:
			return noReply()
		}
	}
	return noReply()
}

func (d *dialogue) quiet() reply {
	if d.pending || d.phase != phaseAwaitingPrompt {
		return noReply()
	}
	return d.selectMenu()
}

func (d *dialogue) selectMenu() reply {
	if d.selections >= maxMenuSelections {
		r := noReply()
		r.err = fmt.Errorf("%w after %d attempts", ErrMenuUnavailable, d.selections)
		return r
	}
	d.selections++
	return d.send(selectMenuCommand(d.current()))
}

func (d *dialogue) send(text string) reply {
	d.pending = true
	return sendReply(text)
}

func (d *dialogue) finishInterface() reply {
	id := d.current()
	d.cursor++
	d.selections = 0
	if d.cursor >= len(d.interfaces) {
		d.phase = phaseSessionComplete
		return reply{send: true, text: quitCommand, completed: id, done: true}
	}
	d.phase = phaseAwaitingPrompt
	return reply{completed: id}
}
