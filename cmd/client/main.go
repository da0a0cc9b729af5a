package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mdp/qrterminal/v3"
	"go.uber.org/zap"

	"github.com/santiagosayshey/OMesh/internal/cryptographic/identity"
	"github.com/santiagosayshey/OMesh/internal/keystore"
	"github.com/santiagosayshey/OMesh/internal/service/client"
	"github.com/santiagosayshey/OMesh/internal/utils/log"
)

func main() {
	var (
		server  = flag.String("server", envOr("SERVER_ADDRESS", "localhost")+":"+envOr("SERVER_PORT", "8765"), "server client websocket host:port")
		dataDir = flag.String("data", ".", "directory for the identity keypair")
		showQR  = flag.Bool("qr", false, "print the identity fingerprint as a QR code and exit")
	)
	flag.Parse()

	ks := keystore.New(*dataDir)
	priv, err := ks.LoadOrCreate()
	if err != nil {
		log.Fatal("loading identity failed", zap.Error(err))
	}
	fingerprint := identity.Fingerprint(&priv.PublicKey)

	if *showQR {
		// For sharing your identity out of band, e.g. reading it into a
		// friend's phone before addressing a chat to you.
		fmt.Println(fingerprint)
		qrterminal.GenerateHalfBlock(fingerprint, qrterminal.L, os.Stdout)
		return
	}

	app := client.NewApp(*server, priv)
	app.Run()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
