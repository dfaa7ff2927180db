package main

import (
	"context"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"chatcipher/internal/config"
	bundleRepo "chatcipher/internal/repository/bundle"
	"chatcipher/internal/service/server"
	"chatcipher/internal/utils/log"
)

func main() {
	var cfgPath string
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}

	mongoDBClient, err := initMongo(cfg.Mongo.URI)
	if err != nil {
		log.Fatal("connect mongo failed", zap.Error(err))
	}

	db := mongoDBClient.Database(cfg.Mongo.Database)

	bundles := bundleRepo.NewRepo(db)
	s := server.NewHttpServer(cfg.Server.Addr, bundles)

	log.Info("bundle service listening", zap.String("addr", cfg.Server.Addr))
	if err := s.Run(); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
