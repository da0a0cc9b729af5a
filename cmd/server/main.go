package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/santiagosayshey/OMesh/internal/config"
	"github.com/santiagosayshey/OMesh/internal/cryptographic/identity"
	"github.com/santiagosayshey/OMesh/internal/keystore"
	peerRepo "github.com/santiagosayshey/OMesh/internal/repository/peer"
	redisSvc "github.com/santiagosayshey/OMesh/internal/service/redis"
	"github.com/santiagosayshey/OMesh/internal/service/server"
	"github.com/santiagosayshey/OMesh/internal/utils/log"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal("bad configuration", zap.Error(err))
	}
	if cfg.LogMessages {
		log.SetLevel(zapcore.DebugLevel)
	}

	ks := keystore.New(filepath.Join(cfg.DataDir, "keys"))
	priv, err := ks.LoadOrCreate()
	if err != nil {
		log.Fatal("loading server identity failed", zap.Error(err))
	}
	log.Info("server identity",
		zap.String("fingerprint", identity.Fingerprint(&priv.PublicKey)),
		zap.String("address", cfg.SelfAddress()))

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	queue := server.NewRedisForwardQueue(redisSvc.NewRedis(rdb))

	peerKeys, err := loadPeerKeys(cfg)
	if err != nil {
		log.Fatal("loading peer keys failed", zap.Error(err))
	}

	router := server.NewRouter(
		cfg.SelfAddress(),
		priv,
		cfg.Neighbours,
		peerKeys,
		queue,
		uint64(time.Now().UnixNano()),
	)
	srv := server.NewServer(cfg, router)

	go func() {
		if err := srv.Run(); err != nil {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done

	srv.Close()
}

// loadPeerKeys prefers the mongo registry when configured and falls back
// to PEM files under <data>/peers.
func loadPeerKeys(cfg *config.Config) (server.StaticPeerKeys, error) {
	if cfg.MongoURI == "" {
		return server.LoadPeerKeysDir(filepath.Join(cfg.DataDir, "peers"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	repo := peerRepo.NewPeerRepo(client.Database("omesh"))
	return server.LoadPeerKeysMongo(ctx, repo)
}
