package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"

	"github.com/resend/resend-go/v2"
	"github.com/warp/parking-engine/billing"
	"go.uber.org/zap"
)

// Sender is the subset of the Resend emails service used here.
type Sender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ErrEmailDisabled is returned by an Email built without a sender.
var ErrEmailDisabled = errors.New("email notifier has no sender")

// Email sends notices through Resend.
type Email struct {
	sender Sender
	from   string
	log    *zap.Logger
}

// NewEmail returns nil when apiKey is empty.
func NewEmail(apiKey, from string, log *zap.Logger) *Email {
	if apiKey == "" {
		return nil
	}
	return &Email{sender: resend.NewClient(apiKey).Emails, from: from, log: log}
}

// NewEmailWithSender is used by tests to swap the Resend client.
func NewEmailWithSender(sender Sender, from string, log *zap.Logger) *Email {
	return &Email{sender: sender, from: from, log: log}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Notify(ctx context.Context, n billing.Notice) error {
	if e.sender == nil {
		return ErrEmailDisabled
	}
	if n.Client.Email == "" {
		e.log.Debug("client has no email address", zap.String("client_id", string(n.Client.ID)))
		return nil
	}

	html, err := renderNotice(n)
	if err != nil {
		return err
	}

	resp, err := e.sender.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    e.from,
		To:      []string{n.Client.Email},
		Subject: subjectFor(n.Evaluation.State),
		Html:    html,
		Text:    plainNotice(n),
	})
	if err != nil {
		return fmt.Errorf("send email to %s: %w", n.Client.ID, err)
	}
	e.log.Info("delinquency email sent",
		zap.String("client_id", string(n.Client.ID)),
		zap.String("email_id", resp.Id),
	)
	return nil
}

func subjectFor(state billing.DelinquencyState) string {
	switch state {
	case billing.StateUpcoming:
		return "Recordatorio: su mensualidad de parqueadero está vencida"
	case billing.StateOverdue:
		return "Aviso: mensualidad de parqueadero en mora"
	case billing.StateCritical:
		return "Aviso final: mensualidad de parqueadero en mora crítica"
	default:
		return "Aviso de morosidad: mensualidad de parqueadero"
	}
}

var noticeTemplate = template.Must(template.New("notice").Parse(`<!DOCTYPE html>
<html>
<body>
<p>Hola {{.Name}},</p>
<p>Al {{.AsOf}} registramos {{.Periods}} mensualidad(es) sin pagar{{if .Plate}} para el vehículo {{.Plate}}{{end}}.</p>
<p>Valor adeudado: <strong>{{.Owed}}</strong>{{if .OldestDue}} (vencida desde el {{.OldestDue}}){{end}}.</p>
<p>Si ya realizó el pago, por favor ignore este mensaje.</p>
</body>
</html>`))

type noticeView struct {
	Name      string
	Plate     string
	AsOf      string
	Periods   int
	Owed      string
	OldestDue string
}

func viewOf(n billing.Notice) noticeView {
	v := noticeView{
		Name:    n.Client.Name,
		Plate:   n.Client.Plate,
		AsOf:    billing.FormatDate(n.Evaluation.AsOf),
		Periods: n.Evaluation.OverduePeriods,
		Owed:    n.Evaluation.OwedAmount.StringFixed(0),
	}
	if n.Evaluation.OldestDue != nil {
		v.OldestDue = billing.FormatDate(*n.Evaluation.OldestDue)
	}
	return v
}

func renderNotice(n billing.Notice) (string, error) {
	var buf bytes.Buffer
	if err := noticeTemplate.Execute(&buf, viewOf(n)); err != nil {
		return "", fmt.Errorf("render notice: %w", err)
	}
	return buf.String(), nil
}

func plainNotice(n billing.Notice) string {
	v := viewOf(n)
	return fmt.Sprintf("Hola %s, al %s registramos %d mensualidad(es) sin pagar. Valor adeudado: %s.",
		v.Name, v.AsOf, v.Periods, v.Owed)
}
