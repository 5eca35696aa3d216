package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"alarm-broker/internal/config"
	"alarm-broker/internal/connector"
	"alarm-broker/internal/export"
	"alarm-broker/internal/guard"
	"alarm-broker/internal/lifecycle"
	"alarm-broker/internal/models"
	"alarm-broker/internal/notify"
	"alarm-broker/internal/publisher"
	"alarm-broker/internal/queue"
	"alarm-broker/internal/repository"
	"alarm-broker/internal/resolver"
	"alarm-broker/internal/scheduler"
	"alarm-broker/internal/trigger"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Broker 报警 Broker 服务（整合各层）
type Broker struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	alarmsRepo        *repository.AlarmsRepository
	devicesRepo       *repository.DevicesRepository
	escalationRepo    *repository.EscalationRepository
	notificationsRepo *repository.NotificationsRepository
	triggerGuard      *guard.Guard
	deviceResolver    *resolver.Resolver
	jobQueue          *queue.Queue
	worker            *queue.Worker
	fanout            *notify.Fanout
	eventPublisher    *publisher.Publisher
	engine            *lifecycle.Engine
	escalation        *scheduler.Scheduler
	processor         *trigger.Processor
}

// NewBroker 创建报警 Broker 服务
func NewBroker(cfg *config.Config, logger *zap.Logger) (*Broker, error) {
	// 1. 连接数据库
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdle)

	// 测试数据库连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 创建 Repository 层
	alarmsRepo := repository.NewAlarmsRepository(db, logger)
	devicesRepo := repository.NewDevicesRepository(db, logger)
	escalationRepo := repository.NewEscalationRepository(db, logger)
	notificationsRepo := repository.NewNotificationsRepository(db, logger)

	// 4. 触发入口守卫 + 设备解析
	triggerGuard := guard.New(cfg, redisClient, logger)
	deviceResolver := resolver.New(devicesRepo, cfg.Escalation.DefaultPolicyID, logger)

	// 5. 延迟任务队列 + worker
	jobQueue := queue.NewQueue(redisClient, cfg.Escalation.QueueKey, logger)
	worker := queue.NewWorker(
		jobQueue,
		time.Duration(cfg.Escalation.PollInterval)*time.Second,
		cfg.Escalation.WorkerCount,
		int64(cfg.Escalation.BatchSize),
		logger,
	)

	// 6. 外部渠道客户端
	zammadClient := connector.NewZammadClient(cfg.Zammad.BaseURL, cfg.Zammad.APIToken, logger)
	smsClient := connector.NewSendXMSClient(
		cfg.SendXMS.BaseURL, cfg.SendXMS.APIKey, cfg.SendXMS.FromName, cfg.SendXMS.SendPath,
		cfg.SendXMS.Enabled, logger,
	)
	signalClient := connector.NewSignalClient(
		cfg.Signal.Endpoint, cfg.Signal.GroupID, cfg.Signal.SendPath,
		cfg.Signal.Enabled, logger,
	)
	webhookClient := connector.NewWebhookClient(logger)

	// 7. 通知分发器
	fanout := notify.NewFanout(
		zammadClient,
		smsClient,
		signalClient,
		webhookClient,
		escalationRepo,
		notificationsRepo,
		notify.TicketDefaults{
			Group:        cfg.Zammad.Group,
			Customer:     cfg.Zammad.Customer,
			PriorityIDP0: cfg.Zammad.PriorityIDP0,
			StateIDNew:   cfg.Zammad.StateIDNew,
		},
		logger,
	)

	// 8. 状态变更事件发布器
	eventPublisher, err := publisher.New(publisher.Options{
		Enabled:     cfg.MQTT.Enabled,
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	// 9. 状态机 + 调度器 + 触发处理器
	engine := lifecycle.NewEngine(
		alarmsRepo, jobQueue, eventPublisher,
		cfg.Limits.ActorMaxLen, cfg.Limits.NoteMaxLen,
		logger,
	)
	escalation := scheduler.New(
		alarmsRepo, escalationRepo, fanout, deviceResolver, jobQueue,
		cfg.BaseURL, logger,
	)
	escalation.Register(worker)

	processor := trigger.New(
		triggerGuard, deviceResolver, alarmsRepo, jobQueue, eventPublisher, logger,
	)

	return &Broker{
		config:            cfg,
		db:                db,
		redisClient:       redisClient,
		logger:            logger,
		alarmsRepo:        alarmsRepo,
		devicesRepo:       devicesRepo,
		escalationRepo:    escalationRepo,
		notificationsRepo: notificationsRepo,
		triggerGuard:      triggerGuard,
		deviceResolver:    deviceResolver,
		jobQueue:          jobQueue,
		worker:            worker,
		fanout:            fanout,
		eventPublisher:    eventPublisher,
		engine:            engine,
		escalation:        escalation,
		processor:         processor,
	}, nil
}

// Start 启动服务（worker 轮询延迟任务队列）
func (b *Broker) Start(ctx context.Context) error {
	b.logger.Info("Starting alarm broker",
		zap.String("queue_key", b.config.Escalation.QueueKey),
		zap.Int("worker_count", b.config.Escalation.WorkerCount),
	)

	if err := b.worker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job worker: %w", err)
	}

	return nil
}

// Stop 停止服务
func (b *Broker) Stop() error {
	b.logger.Info("Stopping alarm broker")

	b.eventPublisher.Close()

	if err := b.db.Close(); err != nil {
		b.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	if err := b.redisClient.Close(); err != nil {
		b.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}

// Trigger 处理触发请求
func (b *Broker) Trigger(ctx context.Context, req trigger.Request) (*trigger.Result, error) {
	return b.processor.ProcessTrigger(ctx, req)
}

// GetAlarm 按 id 获取报警
func (b *Broker) GetAlarm(ctx context.Context, alarmID string) (*models.Alarm, error) {
	return b.alarmsRepo.GetByID(ctx, alarmID)
}

// AcknowledgeByToken 用 ack 链接里的能力令牌确认报警
// applied=false 且 err=nil 表示重复确认或并发竞争，均不是错误
func (b *Broker) AcknowledgeByToken(ctx context.Context, ackToken string, actor, note *string) (*models.Alarm, bool, error) {
	alarm, err := b.alarmsRepo.GetByAckToken(ctx, ackToken)
	if err != nil {
		return nil, false, err
	}

	applied, err := b.engine.Transition(ctx, alarm, models.StatusAcknowledged, actor, note)
	if err != nil {
		return nil, false, err
	}
	return alarm, applied, nil
}

// TransitionAlarm 把报警转换到目标状态
func (b *Broker) TransitionAlarm(ctx context.Context, alarmID string, target models.Status, actor, note *string) (*models.Alarm, bool, error) {
	alarm, err := b.alarmsRepo.GetByID(ctx, alarmID)
	if err != nil {
		return nil, false, err
	}

	applied, err := b.engine.Transition(ctx, alarm, target, actor, note)
	if err != nil {
		return nil, false, err
	}
	return alarm, applied, nil
}

// ListAlarms 按过滤条件分页列出报警
func (b *Broker) ListAlarms(ctx context.Context, filters repository.AlarmFilters, limit int, cursor *string) ([]*models.Alarm, bool, error) {
	return b.alarmsRepo.List(ctx, filters, limit, cursor)
}

// ExportAlarms 导出报警列表为 xlsx
func (b *Broker) ExportAlarms(ctx context.Context, w io.Writer, filters repository.AlarmFilters, limit int) error {
	alarms, _, err := b.alarmsRepo.List(ctx, filters, limit, nil)
	if err != nil {
		return err
	}
	return export.WriteAlarms(w, alarms)
}

// Notifications 报警的发送审计记录
func (b *Broker) Notifications(ctx context.Context, alarmID string) ([]models.AlarmNotification, error) {
	return b.notificationsRepo.ListByAlarm(ctx, alarmID)
}
