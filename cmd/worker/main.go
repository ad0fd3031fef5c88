package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-storefront-checkout/internal/app"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/logging"
	"github.com/imrishuroy/go-storefront-checkout/internal/notify"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	lg, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = lg.Sync() }()

	clients, err := aws.NewAWSClients(ctx, aws.Settings{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, clients, lg)
	if err != nil {
		return err
	}
	p := NewProcessor(notify.NewLogSink(lg.Named("notify")), a.Carts, a.Orders, cfg.Cart.SweepLimit, lg.Named("worker"))

	// RUN_LOCAL delivers LOCAL_SQS_BODY once, or sweeps when it is unset.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			return p.Sweep(ctx)
		}
		_, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local", Body: body}}})
		return err
	}

	lambda.Start(p.Invoke)
	return nil
}
