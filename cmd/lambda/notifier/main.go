package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/example/settlement-core/internal/email"
	"github.com/example/settlement-core/internal/infrastructure/kinesis"
	"github.com/example/settlement-core/internal/infrastructure/store"
	"github.com/example/settlement-core/internal/notification"
)

var notificationHandler *notification.Handler

func init() {
	eventsTable := getEnv("EVENTS_TABLE", "settlement-events")
	snapshotsTable := getEnv("SNAPSHOTS_TABLE", "settlement-snapshots")

	smtpHost := getEnv("SMTP_HOST", "localhost")
	smtpPort := getEnv("SMTP_PORT", "1025")
	smtpUser := getEnv("SMTP_USERNAME", "")
	smtpPassword := getEnv("SMTP_PASSWORD", "")
	smtpFrom := getEnv("SMTP_FROM", "noreply@example.com")

	cfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("[Lambda Notifier] Failed to load AWS config: %v", err)
	}

	eventStore := store.NewDynamoEventStore(dynamodb.NewFromConfig(cfg), eventsTable, snapshotsTable)
	emailSvc := email.NewSMTPService(smtpHost, smtpPort, smtpUser, smtpPassword, smtpFrom)
	notificationHandler = notification.NewHandler(eventStore, emailSvc)

	log.Printf("[Lambda Notifier] Initialized (events table: %s, SMTP: %s:%s)", eventsTable, smtpHost, smtpPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func handler(ctx context.Context, kinesisEvent events.KinesisEvent) (events.KinesisEventResponse, error) {
	log.Printf("[Lambda Notifier] Received %d records", len(kinesisEvent.Records))

	var batchItemFailures []events.KinesisBatchItemFailure

	for _, record := range kinesisEvent.Records {
		event, err := kinesis.ConvertFromKinesisRecord(record)
		if err != nil {
			log.Printf("[Lambda Notifier] Failed to convert record %s: %v", record.EventID, err)
			batchItemFailures = append(batchItemFailures, events.KinesisBatchItemFailure{
				ItemIdentifier: record.Kinesis.SequenceNumber,
			})
			continue
		}

		// Skip non-INSERT records
		if event == nil {
			continue
		}

		log.Printf("[Lambda Notifier] Processing event: %s (type: %s)", event.ID, event.EventType)

		if err := notificationHandler.HandleEvent(ctx, *event); err != nil {
			log.Printf("[Lambda Notifier] Failed to process event %s: %v", event.ID, err)
			batchItemFailures = append(batchItemFailures, events.KinesisBatchItemFailure{
				ItemIdentifier: record.Kinesis.SequenceNumber,
			})
			continue
		}
	}

	successCount := len(kinesisEvent.Records) - len(batchItemFailures)
	log.Printf("[Lambda Notifier] Processed %d/%d records successfully", successCount, len(kinesisEvent.Records))

	return events.KinesisEventResponse{
		BatchItemFailures: batchItemFailures,
	}, nil
}

func main() {
	lambda.Start(handler)
}
