// Command sacn-inspect decodes sACN (E1.31) and Art-Net DMX traffic from a pcap
// capture or from the live network.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/bbernstein/lacylights-engine/pkg/artnet"
	"github.com/bbernstein/lacylights-engine/pkg/sacn"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "sacn-inspect:", err)
		os.Exit(1)
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.UintFlag{Name: "universe", Aliases: []string{"u"}, Usage: "only show this universe (0 for all)"},
		&cli.IntFlag{Name: "channels", Aliases: []string{"c"}, Value: 16, Usage: "leading channels to print"},
		&cli.BoolFlag{Name: "json", Usage: "print JSON lines"},
	}
}

func filterFrom(cmd *cli.Command) (Filter, error) {
	u := cmd.Uint("universe")
	if u > uint64(sacn.MaxUniverse) {
		return Filter{}, fmt.Errorf("universe %d out of range 1-%d", u, sacn.MaxUniverse)
	}
	n := cmd.Int("channels")
	if n < 0 || n > sacn.MaxSlots {
		return Filter{}, fmt.Errorf("channels must be 0-%d", sacn.MaxSlots)
	}
	return Filter{Universe: uint16(u), Channels: int(n)}, nil
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "sacn-inspect",
		Usage: "decode sACN (E1.31) and Art-Net DMX traffic",
		Commands: []*cli.Command{
			{
				Name:      "pcap",
				Usage:     "decode a pcap capture file",
				ArgsUsage: "FILE",
				Flags:     commonFlags(),
				Action:    runPCAP,
			},
			{
				Name:  "listen",
				Usage: "decode live traffic",
				Flags: append(commonFlags(),
					&cli.StringFlag{Name: "interface", Aliases: []string{"i"}, Usage: "network interface for multicast joins"},
					&cli.BoolFlag{Name: "artnet", Usage: "listen for Art-Net instead of sACN"},
				),
				Action: runListen,
			},
		},
	}
}

func runPCAP(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("pcap: FILE is required")
	}
	f, err := filterFrom(cmd)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	p := printer{w: cmd.Root().Writer, json: cmd.Bool("json")}
	sum, err := inspectPCAP(file, f, p.record)
	if err != nil {
		return err
	}
	p.summary(sum)
	return nil
}

// runListen joins the universe's multicast group when one is given, otherwise it
// only sees unicast and broadcast traffic.
func runListen(ctx context.Context, cmd *cli.Command) error {
	f, err := filterFrom(cmd)
	if err != nil {
		return err
	}

	var iface *net.Interface
	if name := cmd.String("interface"); name != "" {
		if iface, err = net.InterfaceByName(name); err != nil {
			return err
		}
	}

	var conn *net.UDPConn
	port := sacn.DefaultPort
	switch {
	case cmd.Bool("artnet"):
		port = artnet.DefaultPort
		conn, err = net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	case f.Universe != 0:
		conn, err = net.ListenMulticastUDP("udp4", iface, &net.UDPAddr{IP: sacn.MulticastAddr(f.Universe), Port: port})
	default:
		conn, err = net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	}
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	p := printer{w: cmd.Root().Writer, json: cmd.Bool("json")}
	sum := newSummary()
	buf := make([]byte, 1500)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				p.summary(sum)
				return nil
			}
			return err
		}
		sum.Packets++
		rec, ok, err := decodeUDP(port, buf[:n], f)
		if err != nil {
			sum.Errors++
			continue
		}
		if !ok {
			continue
		}
		rec.Time = time.Now()
		rec.From = from.IP.String()
		sum.add(rec)
		p.record(rec)
	}
}
