package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/outofforest/packfs"
	"github.com/outofforest/packfs/config"
	"github.com/outofforest/packfs/metrics"
	"github.com/outofforest/packfs/mount"
	"github.com/outofforest/packfs/persistence"
)

func mountCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <container> <mountpoint>",
		Short: "Mounts the container using FUSE until interrupted",
		Long: `Mounts the container using FUSE until interrupted.
Writable block container is loaded to memory and stored back when it is unmounted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.mount(cmd, args[0], args[1])
		},
	}
	addCacheSizeFlag(cmd)
	cmd.Flags().Bool(config.Flags[config.KeyReadOnly], false, "Mount block container read-only")
	cmd.Flags().Bool(config.Flags[config.KeyMountAllowOther], false, "Allow other users to access the mount")
	cmd.Flags().String(config.Flags[config.KeyMountMetricsAddr], "", "Address serving prometheus metrics")
	return cmd
}

func (e *env) mount(cmd *cobra.Command, path, mountpoint string) error {
	dev, err := e.openDevice(path, false)
	if err != nil {
		return err
	}
	defer closeDevice(dev)

	writable := e.cfg.Format == packfs.FormatBlock && !e.cfg.ReadOnly
	var src persistence.Dev = dev
	if writable {
		if src, err = loadDevice(dev); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	c, err := packfs.Open(src, e.cfg.Format,
		e.containerOptions(packfs.WithMetrics(metrics.NewControllerMetrics(reg)))...)
	if err != nil {
		return err
	}
	defer c.Close()

	server, err := mount.Mount(mount.Options{
		Mountpoint: mountpoint,
		Container:  c,
		AllowOther: e.cfg.Mount.AllowOther,
		Logger:     e.log,
		Metrics:    metrics.NewMountMetrics(reg),
	})
	if err != nil {
		return err
	}

	if addr := e.cfg.Mount.MetricsAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.log.Error("Metrics server failed", zap.String("addr", addr), zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	unmounted := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := server.Unmount(); err != nil {
				e.log.Error("Unmounting failed", zap.String("mountpoint", mountpoint), zap.Error(err))
			}
		case <-unmounted:
		}
	}()

	server.Wait()
	close(unmounted)
	e.log.Info("Container unmounted", zap.String("mountpoint", mountpoint))

	if !writable {
		return nil
	}
	return storeContainer(dev, c.(packfs.Writable))
}
