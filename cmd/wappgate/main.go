package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/trueselph/wappgate/pkg/bus"
	"github.com/trueselph/wappgate/pkg/channels"
	"github.com/trueselph/wappgate/pkg/config"
	"github.com/trueselph/wappgate/pkg/gateway"
	"github.com/trueselph/wappgate/pkg/heartbeat"
	"github.com/trueselph/wappgate/pkg/logger"
	"github.com/trueselph/wappgate/pkg/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		configPath   = flag.String("config", defaultConfigPath(), "path to config file")
		doRegister   = flag.Bool("register", false, "run session registration once and exit")
		doLogout     = flag.Bool("logout", false, "unpair the WhatsApp device and exit")
		outboxExport = flag.String("outbox-export", "", "export outbox items to a JSON file (\"-\" for stdout) and exit")
		outboxImport = flag.String("outbox-import", "", "import outbox items from a JSON file and exit")
		outboxPurge  = flag.String("outbox-purge", "", "purge outbox items for a job id and exit")
		purgeFirst   = flag.Bool("outbox-purge-first", false, "drop existing items before an outbox import")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.Logging.FilePath, cfg.Logging.RotationEnabled, cfg.Logging.MaxSizeMB, cfg.Logging.MaxAgeDays); err != nil {
			logger.WarnCF("main", "File logging unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if err := cfg.Validate(); err != nil {
		logger.FatalC("main", err.Error())
	}

	client := gateway.NewClient(cfg.Gateway)
	registrar := session.NewRegistrar(client, cfg.Registration)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *outboxExport != "" || *outboxImport != "" || *outboxPurge != "":
		runOutboxAdmin(ctx, cfg.Outbox, *outboxExport, *outboxImport, *outboxPurge, *purgeFirst)
	case *doLogout:
		runLogout(ctx, client)
	case *doRegister:
		runRegister(ctx, registrar, client, cfg, *configPath)
	default:
		runServe(ctx, cfg, client, registrar)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "wappgate.json"
	}
	return filepath.Join(home, ".wappgate", "config.json")
}

func runLogout(ctx context.Context, client *gateway.Client) {
	if client.Logout(ctx) {
		fmt.Println("device unpaired")
		return
	}
	fmt.Println("logout did not complete; device may still be paired")
	os.Exit(1)
}

// runRegister drives the registration loop once, reports the outcome, and
// persists a newly minted token back into the config file.
func runRegister(ctx context.Context, registrar *session.Registrar, client *gateway.Client, cfg *config.Config, configPath string) {
	snapshot := registrar.Register(ctx)

	fmt.Printf("instance: %s\n", snapshot.Instance)
	fmt.Printf("status:   %s\n", snapshot.Status)
	if snapshot.Version != "" {
		fmt.Printf("version:  %s\n", snapshot.Version)
	}

	if snapshot.Token != "" && snapshot.Token != cfg.Gateway.Token {
		cfg.Gateway.Token = snapshot.Token
		if err := config.SaveConfig(configPath, cfg); err != nil {
			logger.ErrorCF("main", "Failed to persist refreshed token", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			fmt.Println("refreshed token saved to config")
		}
	}

	if snapshot.Status == session.StatusUpdatingWebhook {
		if conn := client.CheckConnection(ctx); conn.OK() {
			fmt.Println("device:   reachable")
		}
		if dev := client.HostDevice(ctx); dev.OK() {
			if number := dev.Str("id"); number != "" {
				fmt.Printf("number:   %s\n", number)
			}
		}
	}

	if snapshot.Status == session.StatusQRCode && snapshot.QRCode != "" {
		path := filepath.Join(os.TempDir(), client.Instance()+"_qrcode.png")
		if err := writeQRCode(path, snapshot.QRCode); err != nil {
			logger.ErrorCF("main", "Failed to write QR code", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		fmt.Printf("scan the QR code saved at %s\n", path)
	}
}

func writeQRCode(path, encoded string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode qr code: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func runServe(ctx context.Context, cfg *config.Config, client *gateway.Client, registrar *session.Registrar) {
	messageBus := bus.NewMessageBus()
	defer messageBus.Close()

	channel := channels.NewWhatsAppChannel(cfg.Channel, client, registrar, messageBus)

	snapshot := channel.Register(ctx)
	logger.InfoCF("main", "Session registration finished", map[string]interface{}{
		"status":   string(snapshot.Status),
		"instance": snapshot.Instance,
	})
	if snapshot.Status == session.StatusQRCode {
		logger.WarnC("main", "Session is unpaired; run with -register to pair the device")
	}

	if err := channel.Start(ctx); err != nil {
		logger.FatalCF("main", "Failed to start channel", map[string]interface{}{
			"error": err.Error(),
		})
	}

	hb := heartbeat.New(cfg.Heartbeat, registrar)
	go hb.Run(ctx)

	// agent pipeline publishes outbound messages on the bus; forward them
	// through the gateway until shutdown
	go func() {
		for {
			msg, ok := messageBus.ConsumeOutbound(ctx)
			if !ok {
				return
			}
			if err := channel.Send(ctx, msg); err != nil {
				logger.ErrorCF("main", "Outbound send failed", map[string]interface{}{
					"chat_id": msg.ChatID,
					"error":   err.Error(),
				})
			}
		}
	}()

	logger.InfoCF("main", "Gateway connector running", map[string]interface{}{
		"webhook": fmt.Sprintf("%s:%d%s", cfg.Channel.Host, cfg.Channel.Port, cfg.Channel.WebhookPath),
	})

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := channel.Stop(shutdownCtx); err != nil {
		logger.ErrorCF("main", "Channel shutdown failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	logger.InfoC("main", "Shutdown complete")
}
