package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"USync/global"
	"USync/logger"
	"USync/middleware"
	"USync/module/chat"
	"USync/module/send"
	"USync/module/update/codec"
	"USync/module/update/resolver"
	"USync/module/update/route"
	"USync/module/update/seqlog"
	"USync/service/bus"
	"USync/service/gateway"
	"USync/service/mgo"
	storageredis "USync/service/storage/redis"
	"USync/service/typing"
	"USync/tools/ids"
	"USync/tools/security"
)

func main() {
	cfgPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	if err := global.Load(*cfgPath); err != nil {
		logger.Errorf("[main] load config: %v", err)
		os.Exit(1)
	}
	cfg := global.Config
	ids.SetNodeID(cfg.Server.NodeID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- 基础设施 ----
	rdb, err := storageredis.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Errorf("[main] redis: %v", err)
		os.Exit(1)
	}
	defer rdb.Close()

	mongoClient, mongoDB, err := mgo.Connect(ctx, cfg.Mongo)
	if err != nil {
		logger.Errorf("[main] mongo: %v", err)
		os.Exit(1)
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()

	if err := seqlog.EnsureIndexes(ctx, mongoDB); err != nil {
		logger.Errorf("[main] seqlog indexes: %v", err)
		os.Exit(1)
	}
	if err := chat.EnsureIndexes(ctx, mongoDB); err != nil {
		logger.Errorf("[main] chat indexes: %v", err)
		os.Exit(1)
	}

	// ---- 核心组件 ----
	recordKey, err := cfg.Crypto.RecordKey()
	if err != nil {
		logger.Errorf("[main] record key: %v", err)
		os.Exit(1)
	}
	if recordKey == nil {
		logger.Warnf("[main] record encryption disabled (no crypto.record_key_hex)")
	}
	cdc, err := codec.New(recordKey)
	if err != nil {
		logger.Errorf("[main] codec: %v", err)
		os.Exit(1)
	}

	db := seqlog.NewMongoDB(mongoDB)
	alloc := seqlog.NewRedisAllocator(rdb, db)

	dir := chat.NewDirectory(mongoDB)
	router := route.NewRouter(dir)
	res := resolver.New(db, cdc, resolver.Config{
		GapThreshold: cfg.Seq.GapThreshold,
		HardLimit:    cfg.Seq.HardLimit,
	})

	jwtOpts := security.DefaultOptions([]byte(cfg.Server.JWTSecret))

	// sink 链：本节点直推 + kafka 广播（别的网关节点回放）
	sinks := &seqlog.MultiSink{}
	producer, err := bus.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.UpdateTopic)
	if err != nil {
		logger.Warnf("[main] kafka producer unavailable, single-node delivery only: %v", err)
	} else {
		defer producer.Close()
		sinks.Add(producer)
	}

	log := seqlog.New(db, alloc, cdc, sinks)
	sender := send.NewSender(send.NewMongoStore(mongoDB), send.NewRedisIndex(rdb), dir, router, log)
	presence := gateway.NewPresence(rdb, dir, log)
	srv := gateway.NewServer(res, sender, presence, jwtOpts)

	if producer != nil {
		// 有总线：本节点的推送也走 kafka 回放，避免双投
		groupID := cfg.Kafka.GroupPrefix + "-" + cfg.Server.GatewayID
		if err := bus.StartConsumer(ctx, cfg.Kafka.Brokers, groupID, cfg.Kafka.UpdateTopic, srv); err != nil {
			logger.Warnf("[main] bus consumer: %v", err)
		}
	} else {
		sinks.Add(srv)
	}

	// 输入状态总线（瞬态，不落日志）
	if cfg.Nats.URL != "" {
		tb, terr := typing.NewBus(cfg.Nats.URL)
		if terr != nil {
			logger.Warnf("[main] nats unavailable, compose actions disabled: %v", terr)
		} else {
			defer tb.Close()
			srv.SetComposeBus(tb)
			if _, serr := tb.SubscribeAll(srv.PushTransient); serr != nil {
				logger.Warnf("[main] compose subscribe: %v", serr)
			}
		}
	}

	// ---- HTTP/WS ----
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.AccessLog())
	srv.Routes(engine)

	logger.Infof("[main] gateway %s listening on %s", cfg.Server.GatewayID, cfg.Server.Addr)
	if err := engine.Run(cfg.Server.Addr); err != nil {
		logger.Errorf("[main] serve: %v", err)
		os.Exit(1)
	}
}
