// Command netfront-echo drives a netfront.Device from the command
// line: it connects a virtual interface, prints its negotiated
// feature set, and can run a small reactor that logs every inbound
// frame and optionally echoes it back to the sender with the source
// and destination MAC addresses swapped.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/spf13/cobra"

	"github.com/jcorbin/go-netfront/internal/logging"

	netfront "github.com/jcorbin/go-netfront"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "netfront-echo",
		Short: "Exercise a netfront virtual interface from the command line",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cfg := logging.DefaultConfig()
		if verbose {
			cfg.Level = logging.LevelDebug
		}
		logging.SetDefault(logging.NewLogger(cfg))
	}

	root.AddCommand(newConnectCmd(), newListenCmd(), newStatsCmd())
	return root
}

func connectDevice(ctx context.Context, id string) (*netfront.Device, error) {
	deps, err := netfront.DefaultDeps()
	if err != nil {
		return nil, fmt.Errorf("collect device dependencies: %w", err)
	}
	return netfront.Connect(ctx, id, deps)
}

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <id>",
		Short: "Connect a virtual interface and print its negotiated state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			d, err := connectDevice(ctx, args[0])
			if err != nil {
				return err
			}
			defer netfront.Disconnect(d)

			fmt.Printf("id=%d mac=%s backend=%d features=%s\n",
				d.ID(), netHardwareAddrString(d.MAC()), d.BackendID(), d.Features())
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "stats <id>",
		Short: "Connect a virtual interface and periodically print its counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := connectDevice(ctx, args[0])
			if err != nil {
				return err
			}
			defer netfront.Disconnect(d)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					s := d.GetStats()
					fmt.Printf("rx=%d(%.0fB/s) tx=%d(%.0fB/s)\n",
						s.RxPkts, s.RxBytesPerSec, s.TxPkts, s.TxBytesPerSec)
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "reporting interval")
	return cmd
}

func newListenCmd() *cobra.Command {
	var echo bool
	cmd := &cobra.Command{
		Use:   "listen <id>",
		Short: "Connect a virtual interface and log every received frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			d, err := connectDevice(ctx, args[0])
			if err != nil {
				return err
			}
			defer netfront.Disconnect(d)

			logger := logging.Default().WithDevice(d.ID())
			return d.Listen(ctx, func(frame []byte) error {
				return handleFrame(ctx, d, logger, frame, echo)
			})
		},
	}
	cmd.Flags().BoolVar(&echo, "echo", false, "echo each received frame back with swapped MAC addresses")
	return cmd
}

func handleFrame(ctx context.Context, d *netfront.Device, logger *logging.Logger, frame []byte, echo bool) error {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	eth, ok := ethLayer.(*layers.Ethernet)
	if !ok {
		logger.Warn("received non-ethernet frame", "len", len(frame))
		return nil
	}
	logger.Info("received frame", "src", eth.SrcMAC, "dst", eth.DstMAC, "ethertype", eth.EthernetType, "len", len(frame))

	if !echo {
		return nil
	}

	reply := &layers.Ethernet{
		SrcMAC:       eth.DstMAC,
		DstMAC:       eth.SrcMAC,
		EthernetType: eth.EthernetType,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, reply, gopacket.Payload(eth.Payload)); err != nil {
		return fmt.Errorf("serialize echo frame: %w", err)
	}
	return d.Write(ctx, buf.Bytes())
}

func netHardwareAddrString(mac []byte) string {
	if len(mac) == 0 {
		return "(none)"
	}
	s := ""
	for i, b := range mac {
		if i > 0 {
			s += ":"
		}
		s += fmt.Sprintf("%02x", b)
	}
	return s
}
