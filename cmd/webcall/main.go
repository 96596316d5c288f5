// Демонстрационный софтфон поверх пакетов call и sipua.
//
// Режим server принимает входящие вызовы и автоматически отвечает на
// них. Режим client набирает указанную цель и завершает разговор по
// таймеру или Ctrl+C.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/webcall/pkg/call"
	"github.com/arzzra/webcall/pkg/sipua"
)

func main() {
	var (
		listenAddr = flag.String("listen", "127.0.0.1:5060", "Адрес прослушивания SIP")
		username   = flag.String("user", "webcall", "Имя пользователя")
		domain     = flag.String("domain", "example.com", "SIP домен")
		mode       = flag.String("mode", "server", "Режим: server или client")
		target     = flag.String("target", "", "Цель исходящего вызова (режим client)")
		language   = flag.String("lang", "en", "Язык статусных сообщений: en или nl")
		duration   = flag.Duration("duration", 30*time.Second, "Длительность разговора в режиме client")
		debug      = flag.Bool("debug", false, "Подробное логирование")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
		sip.SIPDebug = true
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	stackConfig := sipua.DefaultConfig()
	stackConfig.ListenAddr = *listenAddr
	stackConfig.Username = *username
	stackConfig.Domain = *domain
	stackConfig.Logger = logger

	stack, err := sipua.NewStack(stackConfig)
	if err != nil {
		logger.Error("создание SIP стека", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := call.NewMetrics(&call.MetricsConfig{Registerer: prometheus.DefaultRegisterer})
	manager := call.NewManager(&call.Config{
		Transport: stack,
		Metrics:   metrics,
		Catalog:   call.NewCatalog(*language),
		Notifier:  consoleNotifier{},
		Logger:    logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stack.OnIncomingSession(func(sess *sipua.Session) {
		c := manager.OnIncomingSession(sess, call.Options{Active: true, Silent: true})
		if err := c.Start(ctx); err != nil {
			logger.Warn("установка входящего вызова", slog.Any("error", err))
			return
		}
		logger.Info("входящий вызов",
			slog.String("from", c.Number()),
			slog.String("displayName", c.DisplayName()))
		if *mode == "server" {
			go autoAnswer(ctx, c, logger)
		}
	})

	if err := stack.Start(ctx); err != nil {
		logger.Error("запуск SIP стека", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("SIP стек запущен",
		slog.String("addr", *listenAddr),
		slog.String("mode", *mode))

	switch *mode {
	case "server":
		<-ctx.Done()
	case "client":
		if *target == "" {
			fmt.Fprintln(os.Stderr, "режим client требует -target")
			os.Exit(1)
		}
		runClient(ctx, manager, *target, *duration, logger)
	default:
		fmt.Fprintf(os.Stderr, "неизвестный режим: %s\n", *mode)
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	manager.TerminateAll(shutdownCtx)
	stack.Shutdown(shutdownCtx)
}

// autoAnswer принимает входящий вызов после короткой паузы, имитируя
// поднятие трубки.
func autoAnswer(ctx context.Context, c *call.Call, logger *slog.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
	}
	if err := c.Accept(ctx); err != nil {
		logger.Warn("не удалось принять вызов",
			slog.String("id", c.ID()),
			slog.Any("error", err))
	}
}

// runClient набирает цель и держит разговор до таймера или сигнала.
func runClient(ctx context.Context, manager *call.Manager, target string, duration time.Duration, logger *slog.Logger) {
	c := manager.NewOutgoingCall(target, call.Options{Active: true, Silent: true})
	if err := c.Start(ctx); err != nil {
		logger.Error("набор номера", slog.Any("error", err))
		return
	}
	logger.Info("вызов отправлен", slog.String("id", c.ID()))

	timer := time.NewTimer(duration)
	defer timer.Stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.Terminate(context.Background())
			return
		case <-ticker.C:
			status := c.Status()
			logger.Debug("статус вызова", slog.String("status", string(status)))
			if status.Terminal() {
				return
			}
		}
	}
}

// consoleNotifier печатает пользовательские уведомления в stdout.
type consoleNotifier struct{}

func (consoleNotifier) Notify(n call.Notification) {
	fmt.Printf("[%s] %s\n", n.Type, n.Message)
}

func (consoleNotifier) CallRejected(c *call.Call) {
	fmt.Printf("[missed] %s (%s)\n", c.Number(), c.DisplayName())
}
