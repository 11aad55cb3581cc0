package logging

import (
	"io"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/coreos/go-systemd/v22/journal"
)

// journalWriter adapts the systemd journal to io.Writer so it can back a
// *log.Logger the same way os.Stderr does.
type journalWriter struct{}

func (journalWriter) Write(p []byte) (int, error) {
	if err := journal.Print(journal.PriInfo, "%s", p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// JournalWriter returns an io.Writer backed by the systemd journal, or nil
// if the journal socket isn't reachable (e.g. not running under systemd).
func JournalWriter() io.Writer {
	if !journal.Enabled() {
		return nil
	}
	return journalWriter{}
}

// NotifyReady tells a supervising systemd that tailsrv has finished
// bootstrapping (listener bound, watch registered). It is a silent no-op
// outside of systemd's notify-socket environment.
func NotifyReady() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	return err
}

// NotifyStopping tells a supervising systemd that tailsrv is shutting
// down, giving it a chance to report accurate unit state during an
// orderly exit.
func NotifyStopping() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	return err
}
