package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"nettie/internal/models"
	"nettie/internal/push"
	"nettie/internal/repository"
)

// AlertService fans escalated detections out to the guardian: email via
// Amazon SES and a push notification to the registered device. Alert
// destinations live in the local preference cache, not in the shared store.
type AlertService struct {
	client    *sesv2.Client
	pusher    *push.Client
	prefs     *repository.PrefsRepository
	fromEmail string
	fromName  string
	enabled   bool
}

// NewAlertService creates the alert fan-out. If fromEmail is empty the email
// channel is disabled; pusher may be nil to disable push.
func NewAlertService(awsRegion, fromEmail, fromName string, pusher *push.Client, prefs *repository.PrefsRepository) (*AlertService, error) {
	if fromEmail == "" {
		log.Println("Alert email disabled: SES_FROM_EMAIL not configured")
		return &AlertService{
			pusher: pusher,
			prefs:  prefs,
		}, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(awsRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := sesv2.NewFromConfig(cfg)

	log.Printf("Alert email enabled: from=%s, region=%s", fromEmail, awsRegion)
	return &AlertService{
		client:    client,
		pusher:    pusher,
		prefs:     prefs,
		fromEmail: fromEmail,
		fromName:  fromName,
		enabled:   true,
	}, nil
}

// IsEnabled returns whether the email channel is enabled
func (s *AlertService) IsEnabled() bool {
	return s.enabled
}

// NotifyEscalation sends one alert for an escalated detection event. Each
// channel fails independently; a dead email address must not block push.
func (s *AlertService) NotifyEscalation(ctx context.Context, nickname string, ev models.EscalationEvent) error {
	var firstErr error
	if err := s.sendEscalationEmail(ctx, nickname, ev); err != nil {
		log.Printf("Escalation email failed: %v", err)
		firstErr = err
	}
	if err := s.sendEscalationPush(ctx, nickname, ev); err != nil {
		log.Printf("Escalation push failed: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *AlertService) sendEscalationEmail(ctx context.Context, nickname string, ev models.EscalationEvent) error {
	if !s.enabled {
		return nil
	}
	toEmail, err := s.prefs.GetSetting(repository.SettingAlertEmail)
	if err != nil {
		return fmt.Errorf("failed to read alert email: %w", err)
	}
	if toEmail == "" {
		log.Printf("Skipping escalation email: no alert address configured")
		return nil
	}

	when := time.UnixMilli(ev.Timestamp).Format("Jan 2 15:04")
	phrases := strings.Join(ev.MatchedPhrases, ", ")
	if phrases == "" {
		phrases = "(none recorded)"
	}

	subject := fmt.Sprintf("Safety alert for %s", nickname)
	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<style>
		body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
		.container { max-width: 600px; margin: 0 auto; padding: 20px; }
		.header { background-color: #d9534f; color: white; padding: 20px; text-align: center; border-radius: 5px 5px 0 0; }
		.content { background-color: #f9f9f9; padding: 30px; border-radius: 0 0 5px 5px; }
		.detail { margin: 4px 0; }
		.footer { text-align: center; margin-top: 20px; font-size: 12px; color: #666; }
	</style>
</head>
<body>
	<div class="container">
		<div class="header">
			<h1>Safety Alert</h1>
		</div>
		<div class="content">
			<p>An escalated event was detected on %s's device.</p>
			<p class="detail"><strong>Category:</strong> %s</p>
			<p class="detail"><strong>App:</strong> %s</p>
			<p class="detail"><strong>Matched phrases:</strong> %s</p>
			<p class="detail"><strong>When:</strong> %s</p>
			<p>Open your Nettie dashboard to review the full timeline and check in with your child.</p>
		</div>
		<div class="footer">
			<p>This is an automated alert from Nettie. Please do not reply.</p>
		</div>
	</div>
</body>
</html>
`, nickname, ev.Category, ev.SourceApp, phrases, when)

	textBody := fmt.Sprintf(`An escalated event was detected on %s's device.

Category: %s
App: %s
Matched phrases: %s
When: %s

Open your Nettie dashboard to review the full timeline and check in with your child.

---
This is an automated alert from Nettie. Please do not reply.
`, nickname, ev.Category, ev.SourceApp, phrases, when)

	return s.sendEmail(ctx, toEmail, subject, htmlBody, textBody)
}

func (s *AlertService) sendEscalationPush(ctx context.Context, nickname string, ev models.EscalationEvent) error {
	if s.pusher == nil {
		return nil
	}
	deviceToken, err := s.prefs.GetSetting(repository.SettingDeviceToken)
	if err != nil {
		return fmt.Errorf("failed to read device token: %w", err)
	}
	if deviceToken == "" {
		return nil
	}

	title := fmt.Sprintf("Safety alert for %s", nickname)
	body := fmt.Sprintf("Escalated %s event in %s", ev.Category, ev.SourceApp)
	data := map[string]string{
		"childId":  ev.ChildID,
		"eventKey": ev.Key,
		"category": ev.Category,
	}
	return s.pusher.Send(ctx, deviceToken, title, body, data)
}

// sendEmail sends an email using Amazon SES
func (s *AlertService) sendEmail(ctx context.Context, toEmail, subject, htmlBody, textBody string) error {
	fromAddress := s.fromEmail
	if s.fromName != "" {
		fromAddress = fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{toEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(htmlBody),
						Charset: aws.String("UTF-8"),
					},
					Text: &types.Content{
						Data:    aws.String(textBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", toEmail, err)
	}

	log.Printf("Email sent successfully: to=%s, subject=%s", toEmail, subject)
	return nil
}
