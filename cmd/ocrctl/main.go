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

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/ocr-jobs/constants"
	"github.com/joseph-ayodele/ocr-jobs/internal/ingest"
	"github.com/joseph-ayodele/ocr-jobs/internal/server"
)

const usage = `usage:
  ocrctl [-addr host:port] submit [-wait] [-type content/type] <file>
  ocrctl [-addr host:port] submit-dir [-hidden] <dir>
  ocrctl [-addr host:port] watch [-debounce 500ms] <dir>...
  ocrctl [-addr host:port] result <job-id>
  ocrctl [-addr host:port] export -out file.xlsx <job-id>`

func main() {
	addr := flag.String("addr", envOr("GRPC_ADDR", "localhost:8080"), "ocrd address")
	timeout := flag.Duration("timeout", 30*time.Second, "per-call timeout")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()
	c := &cli{client: server.NewClient(conn), timeout: *timeout}

	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "submit":
		err = c.submit(args)
	case "submit-dir":
		err = c.submitDir(args)
	case "watch":
		err = c.watch(args)
	case "result":
		err = c.result(args)
	case "export":
		err = c.export(args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fatalf("%v", err)
	}
}

type cli struct {
	client  *server.Client
	timeout time.Duration
}

func (c *cli) submit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	wait := fs.Bool("wait", false, "poll until the job is finished or failed")
	interval := fs.Duration("interval", time.Second, "poll interval with -wait")
	contentType := fs.String("type", "", "content type (default: from file extension)")
	args = parseInterspersed(fs, args)
	if len(args) != 1 {
		return fmt.Errorf("submit needs exactly one file")
	}
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ct := *contentType
	if ct == "" {
		var ok bool
		if ct, ok = ingest.ContentType(path); !ok {
			return fmt.Errorf("cannot guess content type of %s, pass -type", path)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	id, err := c.client.Submit(ctx, data, ct)
	if err != nil {
		return err
	}
	if !*wait {
		fmt.Println(id)
		return nil
	}
	return c.poll(id, *interval)
}

// submitFile submits path with the content type implied by its extension.
func (c *cli) submitFile(path string) (string, error) {
	ct, ok := ingest.ContentType(path)
	if !ok {
		return "", fmt.Errorf("unsupported extension")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.client.Submit(ctx, data, ct)
}

func (c *cli) submitDir(args []string) error {
	fs := flag.NewFlagSet("submit-dir", flag.ExitOnError)
	hidden := fs.Bool("hidden", false, "include hidden files and directories")
	args = parseInterspersed(fs, args)
	if len(args) != 1 {
		return fmt.Errorf("submit-dir needs exactly one directory")
	}
	paths, failed, stats, err := ingest.Discover(args[0], !*hidden)
	if err != nil {
		return err
	}
	for _, f := range failed {
		fmt.Fprintf(os.Stderr, "skip %s: %v\n", f.Path, f.Err)
	}
	submitted := 0
	for _, p := range paths {
		id, err := c.submitFile(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "submit %s: %v\n", p, err)
			continue
		}
		submitted++
		fmt.Printf("%s\t%s\n", id, p)
	}
	fmt.Fprintf(os.Stderr, "scanned=%d matched=%d submitted=%d\n", stats.Scanned, stats.Matched, submitted)
	return nil
}

func (c *cli) watch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	debounce := fs.Duration("debounce", 500*time.Millisecond, "wait this long after the last write before submitting")
	existing := fs.Bool("existing", false, "also submit files already present")
	args = parseInterspersed(fs, args)
	if len(args) == 0 {
		return fmt.Errorf("watch needs at least one directory")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	events, errs, err := ingest.Watch(ctx, ingest.WatchConfig{
		Roots:       args,
		InitialScan: *existing,
		Debounce:    *debounce,
		SkipHidden:  true,
		Logger:      slog.New(slog.NewTextHandler(os.Stderr, nil)),
	})
	if err != nil {
		return err
	}
	for {
		select {
		case p, ok := <-events:
			if !ok {
				return nil
			}
			id, err := c.submitFile(p)
			if err != nil {
				fmt.Fprintf(os.Stderr, "submit %s: %v\n", p, err)
				continue
			}
			fmt.Printf("%s\t%s\n", id, p)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		}
	}
}

func (c *cli) poll(id string, interval time.Duration) error {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		res, err := c.client.Result(ctx, id)
		cancel()
		if err != nil {
			return err
		}
		st := constants.JobStatus(res.GetFields()["status"].GetStringValue())
		if st.Terminal() {
			return printJSON(res)
		}
		time.Sleep(interval)
	}
}

func (c *cli) result(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("result needs a job id")
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	res, err := c.client.Result(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(res)
}

func (c *cli) export(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "", "output .xlsx path")
	args = parseInterspersed(fs, args)
	if len(args) != 1 || *out == "" {
		return fmt.Errorf("export needs -out and a job id")
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	data, err := c.client.Export(ctx, args[0])
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", *out, len(data))
	return nil
}

func printJSON(res *structpb.Struct) error {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(res)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// parseInterspersed lets flags follow positional arguments
// ("export <id> -out f.xlsx") and returns the positionals.
func parseInterspersed(fs *flag.FlagSet, args []string) []string {
	var pos []string
	for {
		_ = fs.Parse(args)
		args = fs.Args()
		if len(args) == 0 {
			return pos
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ocrctl: "+format+"\n", args...)
	os.Exit(1)
}
