package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/kardianos/service"
	"github.com/mantonx/rtsphls/internal/config"
	"github.com/spf13/cobra"
)

const serviceName = "rtsphls"

// program adapts an app to the service manager's Start/Stop callbacks
type program struct {
	cfg    *config.Config
	app    *app
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	a, err := newApp(ctx, p.cfg)
	if err != nil {
		cancel()
		return err
	}

	p.app = a
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		err := a.Run(ctx)
		a.Close()
		p.done <- err
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	timeout := p.cfg.Server.ShutdownTimeout.Std() + 5*time.Second
	select {
	case err := <-p.done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("shutdown did not finish within %s", timeout)
	}
}

func serviceConfig(configPath string) (*service.Config, error) {
	svc := &service.Config{
		Name:        serviceName,
		DisplayName: "RTSP to HLS",
		Description: "Transcodes RTSP cameras to HLS on demand",
		Arguments:   []string{"service", "run"},
	}
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		svc.Arguments = append(svc.Arguments, "--config", abs)
	}
	return svc, nil
}

func newSystemService(ctx *commandContext) (service.Service, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	svcConfig, err := serviceConfig(ctx.configPath())
	if err != nil {
		return nil, err
	}
	return service.New(&program{cfg: cfg}, svcConfig)
}

func newServiceCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage rtsphls as a system service",
	}

	for _, action := range []string{"install", "uninstall", "start", "stop", "restart"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the system service", action),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := newSystemService(ctx)
				if err != nil {
					return err
				}
				if action == "install" {
					figure.NewFigure(serviceName, "", false).Print()
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("service %s: %w", action, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), serviceName, action, "ok")
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the system service status",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSystemService(ctx)
			if err != nil {
				return err
			}
			status, err := s.Status()
			if err != nil {
				if errors.Is(err, service.ErrNotInstalled) {
					fmt.Fprintln(cmd.OutOrStdout(), "not installed")
					return nil
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), serviceStatusText(status))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run under the service manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSystemService(ctx)
			if err != nil {
				return err
			}
			return s.Run()
		},
	})

	return cmd
}

func serviceStatusText(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
