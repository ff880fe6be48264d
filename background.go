package main

import (
	"context"
	"time"
)

// This is our interface, allowing us to enable proper testing
type BackgroundProcessor interface {
	revalidateStoredCredentials() (int, error)
}

// StartBackgroundTasks runs the periodic credential revalidation loop in a
// thread. Each cycle re-checks every stored credential against its remote
// service so the operator notices expired tokens before a user does.
func StartBackgroundTasks(ctx context.Context, app BackgroundProcessor, pollingInterval time.Duration) {
	go func() {
		minBackoffDuration := 10 * time.Second
		maxBackoffDuration := time.Hour

		backoffDuration := minBackoffDuration

		for {
			select {
			case <-ctx.Done():
				log.Infoln("Background tasks shutting down")
				return
			default: // needed to make this non-blocking
			}

			checkedCount, err := app.revalidateStoredCredentials()

			if err != nil {
				log.Errorf("Error in background credential revalidation: %v", err)
				time.Sleep(backoffDuration)

				// Exponential backoff logic
				backoffDuration *= 2
				if backoffDuration > maxBackoffDuration {
					log.Warnf("Max backoff duration reached. Using %v", maxBackoffDuration)
					backoffDuration = maxBackoffDuration
				}
				continue
			}

			// Reset backoff when the cycle succeeds
			backoffDuration = minBackoffDuration

			if checkedCount > 0 {
				log.Debugf("Revalidated %d stored credentials", checkedCount)
			}
			time.Sleep(pollingInterval)
		}
	}()
}

// revalidateStoredCredentials runs a validation probe for every provider
// with stored credentials. Rejected credentials are recorded as validation
// outcomes, not returned as errors; only infrastructure failures abort the
// cycle.
func (app *App) revalidateStoredCredentials() (int, error) {
	records, err := ListCredentialRecords(app.Database)
	if err != nil {
		return 0, err
	}

	checked := 0
	for _, record := range records {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		response, err := app.validateProvider(ctx, record.Provider)
		cancel()

		if err != nil {
			log.Warnf("Stored credentials for %s failed validation: %s", record.Provider, response.Message)
		}
		checked++
	}

	return checked, nil
}
