package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	flag "github.com/ogier/pflag"

	"github.com/mbocsi/iothub/client"
	"github.com/mbocsi/iothub/proto"
)

const usage = `Usage: hubctl <command> [flags] [args]

Commands:
  devices                         list registered devices
  device <id>                     show one device
  register <kind> [name]          register a simulated device
  unregister <id>                 unregister a device
  send <id> <type> [data]         send a message and wait for the device
  events                          show journaled events
  kinds                           list device kinds and message types
  watch [topic...]                stream events over the websocket transport

Run 'hubctl <command> --help' for command flags.`

type globals struct {
	url      string
	wsURL    string
	discover bool
	timeout  time.Duration
}

func newFlagSet(name string) (*flag.FlagSet, *globals) {
	g := &globals{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVarP(&g.url, "url", "u", envOr("HUB_URL", "http://localhost:8080"), "hub HTTP API address")
	fs.StringVar(&g.wsURL, "ws", envOr("HUB_WS_URL", "ws://localhost:8081"), "hub websocket transport address")
	fs.BoolVarP(&g.discover, "discover", "d", false, "find the hub over mDNS")
	fs.DurationVar(&g.timeout, "timeout", 30*time.Second, "request timeout")
	return fs, g
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "devices":
		err = listDevices(args)
	case "device":
		err = showDevice(args)
	case "register":
		err = register(args)
	case "unregister":
		err = unregister(args)
	case "send":
		err = send(args)
	case "events":
		err = listEvents(args)
	case "kinds":
		err = listKinds(args)
	case "watch":
		err = watch(args)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	default:
		err = fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "hubctl:", err)
		os.Exit(1)
	}
}

func (g *globals) client() (*client.Client, error) {
	if !g.discover {
		return client.NewClient(g.url), nil
	}
	svc, err := client.DiscoverHTTPService(5 * time.Second)
	if err != nil {
		return nil, err
	}
	return client.NewClient(svc.URL()), nil
}

func (g *globals) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.timeout)
}

// parseArgs parses flags and checks the positional argument count.
// A negative max means no upper bound.
func parseArgs(fs *flag.FlagSet, args []string, min, max int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	rest := fs.Args()
	if len(rest) < min || (max >= 0 && len(rest) > max) {
		return nil, fmt.Errorf("wrong number of arguments\n\n%s", usage)
	}
	return rest, nil
}

func parseID(s string) (proto.DeviceID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid device id %q", s)
	}
	return proto.DeviceID(id), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDevices(devices []client.Device) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tREGISTERED")
	for _, d := range devices {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.ID, d.Name, d.Kind, d.RegisteredAt.Format(time.RFC3339))
	}
	w.Flush()
}

func listDevices(args []string) error {
	fs, g := newFlagSet("devices")
	asJSON := fs.Bool("json", false, "print JSON")
	if _, err := parseArgs(fs, args, 0, 0); err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	ctx, cancel := g.context()
	defer cancel()

	devices, err := c.ListDevices(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(devices)
	}
	printDevices(devices)
	return nil
}

func showDevice(args []string) error {
	fs, g := newFlagSet("device")
	rest, err := parseArgs(fs, args, 1, 1)
	if err != nil {
		return err
	}
	id, err := parseID(rest[0])
	if err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	ctx, cancel := g.context()
	defer cancel()

	device, err := c.GetDevice(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(device)
}

func register(args []string) error {
	fs, g := newFlagSet("register")
	delay := fs.Duration("delay", 0, "simulated operation delay (0 uses the hub default)")
	rest, err := parseArgs(fs, args, 1, 2)
	if err != nil {
		return err
	}
	req := client.RegisterRequest{Kind: rest[0], DelayMs: delay.Milliseconds()}
	if len(rest) == 2 {
		req.Name = rest[1]
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	ctx, cancel := g.context()
	defer cancel()

	device, err := c.RegisterDevice(ctx, req)
	if err != nil {
		return err
	}
	printDevices([]client.Device{*device})
	return nil
}

func unregister(args []string) error {
	fs, g := newFlagSet("unregister")
	rest, err := parseArgs(fs, args, 1, 1)
	if err != nil {
		return err
	}
	id, err := parseID(rest[0])
	if err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	ctx, cancel := g.context()
	defer cancel()

	if err := c.UnregisterDevice(ctx, id); err != nil {
		return err
	}
	fmt.Printf("unregistered %d\n", id)
	return nil
}

func send(args []string) error {
	fs, g := newFlagSet("send")
	rest, err := parseArgs(fs, args, 2, 3)
	if err != nil {
		return err
	}
	id, err := parseID(rest[0])
	if err != nil {
		return err
	}
	msg := proto.Message{Target: id, Type: proto.MessageType(strings.ToUpper(rest[1]))}
	if len(rest) == 3 {
		msg.Data = rest[2]
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	ctx, cancel := g.context()
	defer cancel()

	if err := c.Send(ctx, msg); err != nil {
		return err
	}
	fmt.Printf("%s handled by %d\n", msg.Type, id)
	return nil
}

func listEvents(args []string) error {
	fs, g := newFlagSet("events")
	device := fs.String("device", "", "only events for this device id")
	eventType := fs.String("type", "", "only events of this type")
	limit := fs.IntP("limit", "n", 20, "maximum number of events")
	if _, err := parseArgs(fs, args, 0, 0); err != nil {
		return err
	}
	filter := client.EventFilter{Type: proto.EventType(*eventType), Limit: *limit}
	if *device != "" {
		id, err := parseID(*device)
		if err != nil {
			return err
		}
		filter.DeviceID = id
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	ctx, cancel := g.context()
	defer cancel()

	events, err := c.Events(ctx, filter)
	if err != nil {
		return err
	}
	for _, e := range events {
		printEvent(e)
	}
	return nil
}

func printEvent(e proto.Event) {
	line := fmt.Sprintf("%s %-20s device=%d", e.Time().Format(time.RFC3339), e.Type, e.DeviceID)
	if e.Message != nil {
		line += fmt.Sprintf(" message=%s", e.Message.Type)
	}
	if e.Error != "" {
		line += fmt.Sprintf(" error=%q", e.Error)
	}
	fmt.Println(line)
}

func listKinds(args []string) error {
	fs, g := newFlagSet("kinds")
	if _, err := parseArgs(fs, args, 0, 0); err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return err
	}
	ctx, cancel := g.context()
	defer cancel()

	kinds, types, err := c.Kinds(ctx)
	if err != nil {
		return err
	}
	fmt.Println("kinds:        ", strings.Join(kinds, ", "))
	fmt.Println("message types:", strings.Join(types, ", "))
	return nil
}

func watch(args []string) error {
	fs, g := newFlagSet("watch")
	topics, err := parseArgs(fs, args, 0, -1)
	if err != nil {
		return err
	}

	addr := g.wsURL
	if g.discover {
		svc, err := client.DiscoverWebSocketService(5 * time.Second)
		if err != nil {
			return err
		}
		addr = svc.URL()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	dialCtx, cancel := context.WithTimeout(ctx, g.timeout)
	stream, err := client.DialEvents(dialCtx, addr, topics...)
	cancel()
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	for {
		frame, err := stream.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if frame.Event != nil {
			printEvent(*frame.Event)
		}
	}
}
