package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/herohde/posdb/pkg/bcgn"
	"github.com/herohde/posdb/pkg/db"
	"github.com/herohde/posdb/pkg/entry"
	"github.com/herohde/posdb/pkg/store"
	"github.com/seekerror/build"
	"github.com/seekerror/logw"
)

var version = build.NewVersion(0, 3, 0)

var (
	memory  = flag.String("memory", "", "Ingest memory budget, e.g. 512mb")
	threads = flag.Int("threads", 1, "Parallel ingest workers")
	level   = flag.String("level", "human", "Game level for import: human, engine or server")
	temp    = flag.String("temp", "", "Temporary directory for merge rounds")
)

// Exit codes per the error taxonomy.
const (
	exitOK       = 0
	exitManifest = 2
	exitCorrupt  = 3
	exitIO       = 4
	exitArgs     = 5
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: posdb [options] <command> <path> [args]

POSDB %v is an append-only analytical database of chess positions.
Commands:
  create  <dbKey> <path>        initialize an empty database
  import  <path> <file>...      ingest PGN or BCGN game files
  query   <path> <jsonRequest>  emit a JSON response on stdout
  merge   <path>                compact entry files
  verify  <path>                read-check all files
  info    <path>                print counts and sizes
  destroy <path>                delete all files under path
Options:
`, version)
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	ctx := context.Background()

	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		os.Exit(exitArgs)
	}

	if err := run(ctx, args[0], args[1], args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v: %v\n", taxonomy(err), err)
		os.Exit(exitCode(err))
	}
}

func run(ctx context.Context, cmd, path string, args []string) error {
	switch cmd {
	case "create":
		// For create, the first positional argument is the database key.
		if len(args) != 1 {
			return usageError("create <dbKey> <path>")
		}
		return db.Create(ctx, path, args[0])

	case "import":
		if len(args) == 0 {
			return usageError("import <path> <file>...")
		}
		lvl, ok := entry.ParseLevel(*level)
		if !ok {
			return usageError("unknown level: " + *level)
		}

		opts := []db.Option{db.WithThreads(*threads)}
		if *memory != "" {
			var size datasize.ByteSize
			if err := size.UnmarshalText([]byte(*memory)); err != nil {
				return usageError("invalid memory budget: " + *memory)
			}
			opts = append(opts, db.WithMemory(size))
		}

		d, err := db.Open(ctx, path, opts...)
		if err != nil {
			return err
		}
		defer d.Close(ctx)

		stats, err := d.Import(ctx, args, lvl)
		if err != nil {
			return err
		}
		logw.Infof(ctx, "Imported %v files: %v games (%v skipped), %v positions", stats.Files, stats.Games, stats.SkippedGames, stats.Positions)
		return nil

	case "query":
		if len(args) != 1 {
			return usageError("query <path> <jsonRequest>")
		}
		var req db.Request
		if err := json.Unmarshal([]byte(args[0]), &req); err != nil {
			return usageError("invalid request: " + err.Error())
		}

		d, err := db.Open(ctx, path)
		if err != nil {
			return err
		}
		defer d.Close(ctx)

		resp, err := d.ExecuteQuery(ctx, &req)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil

	case "merge":
		d, err := db.Open(ctx, path)
		if err != nil {
			return err
		}
		defer d.Close(ctx)

		var temps []string
		if *temp != "" {
			temps = append(temps, *temp)
		}
		return d.Merge(ctx, temps)

	case "verify":
		d, err := db.Open(ctx, path)
		if err != nil {
			return err
		}
		defer d.Close(ctx)
		return d.Verify(ctx)

	case "info":
		d, err := db.Open(ctx, path)
		if err != nil {
			return err
		}
		defer d.Close(ctx)

		out, err := json.MarshalIndent(d.Info(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil

	case "destroy":
		return db.Destroy(ctx, path)

	default:
		return usageError("unknown command: " + cmd)
	}
}

type argError struct {
	msg string
}

func (e *argError) Error() string {
	return e.msg
}

func usageError(msg string) error {
	return &argError{msg: msg}
}

// taxonomy names the error class for the single-line stderr report.
func taxonomy(err error) string {
	switch {
	case errors.Is(err, db.ErrKeyMismatch):
		return "KeyMismatch"
	case errors.Is(err, db.ErrEndiannessMismatch):
		return "EndiannessMismatch"
	case errors.Is(err, db.ErrInvalidManifest):
		return "InvalidManifest"
	case errors.Is(err, db.ErrMissingManifest):
		return "MissingManifest"
	case errors.Is(err, db.ErrLockHeld):
		return "LockHeld"
	case errors.Is(err, db.ErrUnknownDbKey):
		return "UnknownDbKey"
	case errors.Is(err, db.ErrUnsupportedSelector):
		return "UnsupportedSelector"
	case errors.Is(err, db.ErrInvalidQueryPosition):
		return "InvalidQueryPosition"
	case errors.Is(err, db.ErrPGNSyntax):
		return "PgnSyntax"
	case errors.Is(err, bcgn.ErrInvalidHeader):
		return "BcgnInvalidHeader"
	case errors.Is(err, bcgn.ErrTruncated):
		return "BcgnTruncated"
	case errors.Is(err, bcgn.ErrGameTooLong):
		return "BcgnGameTooLong"
	case errors.Is(err, store.ErrNonMonotone):
		return "NonMonotoneFile"
	case errors.Is(err, store.ErrCorruptFile):
		return "ChecksumMismatch"
	case errors.Is(err, store.ErrFileIDCollision):
		return "FileIdCollision"
	case errors.Is(err, store.ErrPipelineShutDown):
		return "PipelineShutDown"
	default:
		var ae *argError
		if errors.As(err, &ae) {
			return "InvalidArgument"
		}
		return "IoError"
	}
}

func exitCode(err error) int {
	switch taxonomy(err) {
	case "KeyMismatch", "EndiannessMismatch", "InvalidManifest", "MissingManifest":
		return exitManifest
	case "BcgnInvalidHeader", "BcgnTruncated", "BcgnGameTooLong", "NonMonotoneFile", "ChecksumMismatch", "PgnSyntax":
		return exitCorrupt
	case "InvalidArgument", "UnknownDbKey", "UnsupportedSelector", "InvalidQueryPosition":
		return exitArgs
	default:
		return exitIO
	}
}
