package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/perilib"
	"github.com/ehrlich-b/perilib/devices/loopback"
	"github.com/ehrlich-b/perilib/devices/serial"
	"github.com/ehrlich-b/perilib/internal/logging"
	"github.com/ehrlich-b/perilib/protocol"
	"github.com/ehrlich-b/perilib/protocol/ltv"
	"github.com/ehrlich-b/perilib/protocol/textline"
	"github.com/ehrlich-b/perilib/protocol/tlv"

	goserial "github.com/daedaluz/goserial"
)

func main() {
	var (
		protoName string
		port      string
		baud      int
	)

	root := &cobra.Command{
		Use:   "perilib-demo",
		Short: "Open a stream and print the packets it receives as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(protoName, port, baud)
		},
	}

	root.Flags().StringVar(&protoName, "protocol", "tlv", "protocol to speak: tlv, ltv, or textline")
	root.Flags().StringVar(&port, "port", "", "serial device path (e.g. /dev/ttyUSB0); empty runs an in-memory loopback demo")
	root.Flags().IntVar(&baud, "baud", 115200, "baud rate when --port is set")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(protoName, port string, baud int) error {
	proto, err := lookupProtocol(protoName)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.DefaultConfig())

	stream, demoSend, err := openStream(protoName, port, baud, logger)
	if err != nil {
		return err
	}

	runner := perilib.NewStreamRunner(stream, proto, perilib.WithPacketObservers(
		func(p *protocol.Packet) { printPacket(p) },
		nil,
		func(code perilib.ErrorCode, buf []byte) { logger.Warn("rx error", "code", code, "bytes", len(buf)) },
		nil, nil,
	))

	if err := runner.Open(); err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer runner.Close()

	if demoSend != nil {
		demoSend(runner)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runner.Process()
		case <-sigCh:
			logger.Info("shutting down")
			return nil
		}
	}
}

func lookupProtocol(name string) (*protocol.Protocol, error) {
	switch name {
	case "tlv":
		return tlv.New(), nil
	case "ltv":
		return ltv.New(), nil
	case "textline":
		return textline.New(), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q (want tlv, ltv, or textline)", name)
	}
}

// openStream returns the Stream to run and, for the loopback demo, a
// function that feeds it one sample packet since there's no real peer.
func openStream(protoName, port string, baud int, logger *logging.Logger) (perilib.Stream, func(*perilib.StreamRunner), error) {
	if port != "" {
		var speed goserial.CFlag
		switch baud {
		case 9600:
			speed = goserial.B9600
		case 115200:
			speed = goserial.B115200
		default:
			return nil, nil, fmt.Errorf("unsupported baud rate %d (want 9600 or 115200)", baud)
		}
		logger.Info("opening serial device", "port", port, "baud", baud)
		return serial.New(port, speed), nil, nil
	}

	logger.Info("no --port given, running an in-memory loopback demo")
	client, server := loopback.NewPair()
	if err := client.Open(); err != nil {
		return nil, nil, fmt.Errorf("open loopback peer: %w", err)
	}

	demoBytes, ok := demoPacketBytes[protoName]
	if !ok {
		demoBytes = demoPacketBytes["tlv"]
	}

	return server, func(runner *perilib.StreamRunner) {
		if _, err := client.Write(demoBytes); err != nil {
			logger.Error("demo write failed", "error", err)
		}
	}, nil
}

var demoPacketBytes = map[string][]byte{
	"tlv":      {0x01, 0x05, 'h', 'e', 'l', 'l', 'o'},
	"ltv":      {0x06, 0x01, 'h', 'e', 'l', 'l', 'o'},
	"textline": []byte("hello\n"),
}

func printPacket(p *protocol.Packet) {
	out, err := json.Marshal(struct {
		Name   string         `json:"name"`
		Values map[string]any `json:"values"`
	}{Name: p.Name, Values: p.Values})
	if err != nil {
		fmt.Printf("packet %s (unmarshalable: %v)\n", p.Name, err)
		return
	}
	fmt.Println(string(out))
}
