package dispatch

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogPresenter writes presentations to the log. It is the presenter used
// when no UI is attached, and doubles as the registrar's alerter.
type LogPresenter struct {
	log *logrus.Entry
}

func NewLogPresenter(log *logrus.Entry) *LogPresenter {
	return &LogPresenter{log: log}
}

func (p *LogPresenter) Present(ctx context.Context, pres Presentation) error {
	fields := logrus.Fields{
		"title": pres.Title,
		"body":  pres.Body,
		"sound": pres.Sound,
	}
	if pres.Badge != nil {
		fields["badge"] = *pres.Badge
	}
	if pres.Payload != nil {
		fields["kind"] = pres.Payload.Kind()
	}
	entry := p.log.WithFields(fields)
	if pres.Alert {
		entry.Info("notification")
		return nil
	}
	entry.Debug("notification (no alert)")
	return nil
}

// Alert shows a one-off message to the user.
func (p *LogPresenter) Alert(ctx context.Context, title, message string) {
	p.log.WithField("title", title).Warn(message)
}
