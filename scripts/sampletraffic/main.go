// Command sampletraffic produces request/response traffic on a NATS server
// for trying busprobe locally.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"
)

type trafficMode string

const (
	modeServices  trafficMode = "services"
	modeRequester trafficMode = "requester"
)

const (
	echoSubject = "sample.echo"
	slowSubject = "sample.slow"
	failSubject = "sample.fail"
)

func main() {
	mode := flag.String("mode", "", "Traffic mode: services, requester")
	server := flag.String("server", nats.DefaultURL, "NATS server URL")
	rps := flag.Float64("rate", 10, "Requests per second (requester mode)")
	slowEvery := flag.Int("slow-every", 10, "Send every Nth request to the unanswered subject (0 disables)")
	failEvery := flag.Int("fail-every", 7, "Send every Nth request to the failing subject (0 disables)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	nc, err := nats.Connect(*server, nats.Name("sampletraffic-"+*mode))
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	switch trafficMode(*mode) {
	case modeServices:
		err = runServices(ctx, nc)
	case modeRequester:
		err = runRequester(ctx, nc, *rps, *slowEvery, *failEvery)
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

// runServices answers echo requests, fails requests on the failing subject
// and leaves the slow subject unanswered.
func runServices(ctx context.Context, nc *nats.Conn) error {
	if _, err := nc.Subscribe(echoSubject, func(m *nats.Msg) {
		if err := m.Respond(m.Data); err != nil {
			log.Printf("respond: %v", err)
		}
	}); err != nil {
		return err
	}
	if _, err := nc.Subscribe(failSubject, func(m *nats.Msg) {
		reply := nats.NewMsg(m.Reply)
		reply.Header.Set("Nats-Service-Error", "sample failure")
		reply.Header.Set("Nats-Service-Error-Code", "500")
		if err := m.RespondMsg(reply); err != nil {
			log.Printf("respond: %v", err)
		}
	}); err != nil {
		return err
	}
	if err := nc.Flush(); err != nil {
		return err
	}
	log.Printf("sample services on %s (echo %s, fail %s, unanswered %s)",
		nc.ConnectedUrlRedacted(), echoSubject, failSubject, slowSubject)
	<-ctx.Done()
	return ctx.Err()
}

// runRequester publishes requests at a steady rate without waiting for replies.
func runRequester(ctx context.Context, nc *nats.Conn, rps float64, slowEvery, failEvery int) error {
	if rps <= 0 {
		return fmt.Errorf("rate must be > 0")
	}
	inbox := nc.NewRespInbox()
	prefix := inbox[:strings.LastIndex(inbox, ".")+1]
	if _, err := nc.Subscribe(prefix+"*", func(*nats.Msg) {}); err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Limit(rps), 1)
	log.Printf("requesting at %.1f/s on %s", rps, nc.ConnectedUrlRedacted())
	for n := 1; ; n++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		subject := echoSubject
		switch {
		case slowEvery > 0 && n%slowEvery == 0:
			subject = slowSubject
		case failEvery > 0 && n%failEvery == 0:
			subject = failSubject
		}
		payload := []byte(fmt.Sprintf(`{"n":%d,"at":%q}`, n, time.Now().Format(time.RFC3339Nano)))
		if err := nc.PublishRequest(subject, fmt.Sprintf("%s%d", prefix, n), payload); err != nil {
			return err
		}
	}
}
