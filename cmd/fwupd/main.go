// fwupd drives the firmware update protocol from the command line: against
// an in-memory service for simulation, across an in-process serial loopback
// link, or against a DFU HTTP endpoint with a file-backed device.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/anthropics/purple-dfu/pkg/device"
	"github.com/anthropics/purple-dfu/pkg/service"
	"github.com/anthropics/purple-dfu/pkg/transport"
	"github.com/anthropics/purple-dfu/pkg/update"
)

// Version information (set by ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	var verbose bool

	root := &cobra.Command{
		Use:   "fwupd",
		Short: "Firmware update protocol driver",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(simulateCmd(), loopbackCmd(), pushCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func simulateCmd() *cobra.Command {
	var (
		deviceVersion string
		targetVersion string
		firmwareSize  int
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a simulated device against an in-memory service",
		RunE: func(cmd *cobra.Command, args []string) error {
			fw := make([]byte, firmwareSize)
			for i := range fw {
				fw[i] = byte(i)
			}
			svc := service.NewInMemory([]byte(targetVersion), fw)
			sim := device.NewSimulator([]byte(deviceVersion))
			updater := update.New(svc, update.Config{Timeout: time.Second, Backoff: 0})

			result, err := updater.Run(cmd.Context(), sim, update.StdDelay{})
			if err != nil {
				return err
			}
			fmt.Printf("result: %s, device version: %s\n", result.State, sim.Version())
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceVersion, "device-version", "1", "version the simulated device starts with")
	cmd.Flags().StringVar(&targetVersion, "target-version", "2", "version the service offers")
	cmd.Flags().IntVar(&firmwareSize, "firmware-size", 1024, "size of the generated firmware image")
	return cmd
}

func loopbackCmd() *cobra.Command {
	var (
		deviceVersion string
		targetVersion string
		firmwareSize  int
	)
	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Run two updaters back to back across a framed serial link",
		RunE: func(cmd *cobra.Command, args []string) error {
			fw := make([]byte, firmwareSize)
			for i := range fw {
				fw[i] = byte(i)
			}
			near, far := transport.NewPipe()
			ctx := cmd.Context()

			serving := update.New(service.NewInMemory([]byte(targetVersion), fw), update.DefaultConfig())
			polling := update.New(service.NewSerial(far), update.DefaultConfig())
			sim := device.NewSimulator([]byte(deviceVersion))

			errs := make(chan error, 1)
			go func() {
				_, err := serving.Run(ctx, device.NewSerialDevice(near), update.StdDelay{})
				errs <- err
			}()
			result, err := polling.Run(ctx, sim, update.StdDelay{})
			if err != nil {
				return err
			}
			if err := <-errs; err != nil {
				return err
			}
			fmt.Printf("result: %s, device version: %s\n", result.State, sim.Version())
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceVersion, "device-version", "1", "version the simulated device starts with")
	cmd.Flags().StringVar(&targetVersion, "target-version", "2", "version the service offers")
	cmd.Flags().IntVar(&firmwareSize, "firmware-size", 1024, "size of the generated firmware image")
	return cmd
}

func pushCmd() *cobra.Command {
	var (
		url      string
		username string
		password string
		stateDir string
		timeout  time.Duration
		backoff  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Update a file-backed device from a DFU HTTP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			flash, err := device.OpenFlash(stateDir)
			if err != nil {
				return err
			}
			defer flash.Close()

			svc := service.NewDFUHTTP(&http.Client{Timeout: timeout}, url, username, password)
			updater := update.New(svc, update.Config{Timeout: timeout, Backoff: backoff})

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			result, err := updater.Run(ctx, flash, update.StdDelay{})
			if err != nil {
				return err
			}
			fmt.Printf("result: %s, device version: %s\n", result.State, flash.Version())
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "update service base URL")
	cmd.Flags().StringVar(&username, "username", "", "basic auth username")
	cmd.Flags().StringVar(&password, "password", "", "basic auth password")
	cmd.Flags().StringVar(&stateDir, "state-dir", "fwupd-state", "device state directory")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "per-request timeout")
	cmd.Flags().DurationVar(&backoff, "backoff", time.Second, "retry backoff")
	cmd.MarkFlagRequired("url")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fwupd version %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
		},
	}
}
