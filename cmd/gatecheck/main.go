package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/Cheese-Gatekeeper-bot/internal/authority"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/chatfast"
)

// Connectivity check for the pieces the gatekeeper depends on: the Iris
// bridge (HTTP + WS) and the identity authority.
func main() {
	baseURL := os.Getenv("IRIS_BASE_URL")
	wsURL := os.Getenv("IRIS_WS_URL")
	authorityURL := os.Getenv("AUTHORITY_BASE_URL")
	probeName := os.Getenv("AUTHORITY_PROBE_NAME")
	userID := os.Getenv("X_USER_ID")
	userEmail := os.Getenv("X_USER_EMAIL")
	sessionID := os.Getenv("X_SESSION_ID")

	if baseURL == "" {
		log.Fatal("IRIS_BASE_URL is required")
	}

	headers := func() map[string]string {
		m := map[string]string{}
		if userID != "" {
			m["X-User-Id"] = userID
		}
		if userEmail != "" {
			m["X-User-Email"] = userEmail
		}
		if sessionID != "" {
			m["X-Session-Id"] = sessionID
		}
		return m
	}

	client := chatfast.NewClient(baseURL,
		chatfast.WithHeaderProvider(headers),
		chatfast.WithTimeout(8*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cfg, err := client.GetConfig(ctx)
	if err != nil {
		log.Printf("/config error: %v", err)
	} else {
		log.Printf("/config ok: port=%d polling=%d rate=%d endpoint=%s", cfg.Port, cfg.PollingSpeed, cfg.MessageRate, cfg.WebserverEndpoint)
	}

	if authorityURL != "" {
		if probeName == "" {
			probeName = "jeb_"
		}
		ac := authority.NewClient(authorityURL, authority.WithTimeout(8*time.Second))
		actx, acancel := context.WithTimeout(context.Background(), 5*time.Second)
		profile, err := ac.Lookup(actx, probeName)
		acancel()
		switch {
		case err != nil:
			log.Printf("authority error: %v", err)
		case profile == nil:
			log.Printf("authority ok: %s not found", probeName)
		default:
			log.Printf("authority ok: %s → id=%s name=%s", probeName, profile.ID, profile.Name)
		}
	} else {
		log.Println("AUTHORITY_BASE_URL not set; skipping authority check")
	}

	if wsURL == "" {
		log.Println("IRIS_WS_URL not set; skipping WS check")
		return
	}

	ws := chatfast.NewWebSocket(wsURL, 5, time.Second)
	ws.SetHeaderProvider(headers)
	ws.OnStateChange(func(state chatfast.WebSocketState) {
		log.Printf("WS state: %s", state)
	})
	ws.OnMessage(func(msg *chatfast.Message) {
		from := "?"
		if msg.Sender != nil {
			from = *msg.Sender
		}
		fmt.Printf("WS msg room=%s from=%s text=%q\n", msg.Room, from, msg.Msg)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}

	// Observe for a short window
	t := time.NewTimer(10 * time.Second)
	<-t.C

	_ = ws.Close(context.Background())
}
