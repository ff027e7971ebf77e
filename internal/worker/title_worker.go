package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"ragdesk/internal/app"
	"ragdesk/internal/logging"
	"ragdesk/internal/model"
	"ragdesk/internal/pkg/tenantkey"
	"ragdesk/internal/platform/rabbitmq"
)

type TitleGenerator interface {
	GenerateTitle(ctx context.Context, in app.TitleInput) (string, error)
}

// TitleWorker consumes title jobs and names chats that still carry the
// default title.
type TitleWorker struct {
	conn      *amqp.Connection
	titles    TitleGenerator
	queueName string
	log       logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTitleWorker(conn *amqp.Connection, titles TitleGenerator, queueName string, log logging.Logger) *TitleWorker {
	return &TitleWorker{
		conn:      conn,
		titles:    titles,
		queueName: queueName,
		log:       log.With("component", "title_worker"),
	}
}

func (w *TitleWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	// one job at a time: each one is an LLM round trip
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.log.Warn(workerCtx, "title queue closed")
					return
				}
				if err := w.handle(workerCtx, d.Body); err != nil {
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

// handle never asks for a redelivery: a job that fails leaves the default
// title in place.
func (w *TitleWorker) handle(ctx context.Context, body []byte) error {
	var job model.TitleJob
	if err := json.Unmarshal(body, &job); err != nil {
		w.log.Error(ctx, "decode title job failed", "err", err)
		return err
	}
	log := w.log.With("tenant", tenantkey.Fingerprint(job.TenantKey), "chat_id", job.ChatID)

	title, err := w.titles.GenerateTitle(ctx, app.TitleInput{
		TenantKey:     job.TenantKey,
		ChatID:        job.ChatID,
		FirstMessage:  job.FirstMessage,
		OnlyIfDefault: true,
	})
	if err != nil {
		if errors.Is(err, app.ErrChatNotFound) {
			log.Info(ctx, "chat gone before its title was generated")
		} else {
			log.Error(ctx, "generate title failed", "err", err)
		}
		return err
	}
	log.Debug(ctx, "chat titled", "title", title)
	return nil
}

func (w *TitleWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
