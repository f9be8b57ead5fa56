package main

import (
	"log"
	"os"

	"github.com/ruteri/sbs/api/clients"
	"github.com/ruteri/sbs/cmd/flags"
	"github.com/ruteri/sbs/ingest"
	"github.com/ruteri/sbs/interfaces"
	"github.com/urfave/cli/v2"
)

var flagLibrary *cli.StringFlag = &cli.StringFlag{
	Name:     "library",
	Required: true,
	EnvVars:  []string{"SBS_LIBRARY"},
	Usage:    "library id",
}
var flagEntry *cli.StringFlag = &cli.StringFlag{
	Name:     "entry",
	Required: true,
	Usage:    "entry id",
}
var flagLimit *cli.IntFlag = &cli.IntFlag{
	Name:  "limit",
	Value: 0,
	Usage: "page size, 0 uses the server default",
}
var flagAfter *cli.StringFlag = &cli.StringFlag{
	Name:  "after",
	Usage: "list entries strictly after this entry id",
}
var flagReverse *cli.BoolFlag = &cli.BoolFlag{
	Name:  "reverse",
	Usage: "walk entries backward",
}
var flagAll *cli.BoolFlag = &cli.BoolFlag{
	Name:  "all",
	Usage: "follow pages until the last entry",
}
var flagOut *cli.StringFlag = &cli.StringFlag{
	Name:  "out",
	Usage: "file to write the blob to, stdout when empty",
}
var flagTag *cli.StringSliceFlag = &cli.StringSliceFlag{
	Name:  "tag",
	Usage: "entry tag, repeatable",
}
var flagAttr *cli.StringSliceFlag = &cli.StringSliceFlag{
	Name:  "attr",
	Usage: "entry attribute as key=value, repeatable",
}
var flagConflictResolution *cli.StringFlag = &cli.StringFlag{
	Name:  "conflict-resolution",
	Value: ingest.Skip.String(),
	Usage: "what to do when the entry exists: Skip, Replace or ReplaceIfMore",
}
var flagURL *cli.StringSliceFlag = &cli.StringSliceFlag{
	Name:     "url",
	Required: true,
	Usage:    "remote resource to download into the entry, repeatable and ordered",
}
var flagRecord *cli.StringFlag = &cli.StringFlag{
	Name:  "record",
	Usage: "show a single ingestion by record id",
}
var flagState *cli.StringSliceFlag = &cli.StringSliceFlag{
	Name:  "state",
	Usage: "only list ingestions in this state, repeatable",
}

func main() {
	app := &cli.App{
		Name:  "sbs",
		Usage: "Browse blob storage libraries, import files and submit ingestions",
		Flags: append([]cli.Flag{flags.ServerAddrFlag}, flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:  "libraries",
				Usage: "list the libraries served",
				Action: func(cCtx *cli.Context) error {
					return listLibraries(cCtx.Context, newClient(cCtx), os.Stdout)
				},
			},
			{
				Name:  "entries",
				Usage: "list entries of a library",
				Flags: []cli.Flag{flagLibrary, flagLimit, flagAfter, flagReverse, flagAll},
				Action: func(cCtx *cli.Context) error {
					q := clients.EntriesQuery{
						Limit:   cCtx.Int(flagLimit.Name),
						After:   interfaces.EntryID(cCtx.String(flagAfter.Name)),
						Reverse: cCtx.Bool(flagReverse.Name),
					}
					return listEntries(cCtx.Context, newClient(cCtx), os.Stdout,
						interfaces.LibraryID(cCtx.String(flagLibrary.Name)), q, cCtx.Bool(flagAll.Name))
				},
			},
			{
				Name:  "get",
				Usage: "show one entry",
				Flags: []cli.Flag{flagLibrary, flagEntry},
				Action: func(cCtx *cli.Context) error {
					return getEntry(cCtx.Context, newClient(cCtx), os.Stdout,
						interfaces.LibraryID(cCtx.String(flagLibrary.Name)),
						interfaces.EntryID(cCtx.String(flagEntry.Name)))
				},
			},
			{
				Name:      "blob",
				Usage:     "download a blob",
				ArgsUsage: "<blob id>",
				Flags:     []cli.Flag{flagLibrary, flagOut},
				Action: func(cCtx *cli.Context) error {
					return downloadBlob(cCtx.Context, newClient(cCtx),
						interfaces.LibraryID(cCtx.String(flagLibrary.Name)),
						interfaces.BlobID(cCtx.Args().First()),
						cCtx.String(flagOut.Name))
				},
			},
			{
				Name:        "import",
				Usage:       "store local files as an entry, without going through a server",
				ArgsUsage:   "<file>...",
				Description: "Opens the library from the server config file and writes the files, in order, as the blobs of the entry.",
				Flags:       []cli.Flag{flags.ConfigFlag, flagLibrary, flagEntry, flagTag, flagAttr, flagConflictResolution},
				Action: func(cCtx *cli.Context) error {
					metadata, err := parseMetadata(cCtx.StringSlice(flagAttr.Name), cCtx.StringSlice(flagTag.Name))
					if err != nil {
						return err
					}
					cr, err := ingest.ParseConflictResolution(cCtx.String(flagConflictResolution.Name))
					if err != nil {
						return err
					}
					return importFiles(cCtx.Context, flags.SetupLogger(cCtx), os.Stdout, importRequest{
						ConfigPath:         cCtx.String(flags.ConfigFlag.Name),
						LibraryID:          interfaces.LibraryID(cCtx.String(flagLibrary.Name)),
						EntryID:            interfaces.EntryID(cCtx.String(flagEntry.Name)),
						Metadata:           metadata,
						ConflictResolution: cr,
						Files:              cCtx.Args().Slice(),
					})
				},
			},
			{
				Name:  "submit",
				Usage: "ask the server to assemble an entry from remote resources",
				Flags: []cli.Flag{flagLibrary, flagEntry, flagURL, flagTag, flagAttr, flagConflictResolution},
				Action: func(cCtx *cli.Context) error {
					metadata, err := parseMetadata(cCtx.StringSlice(flagAttr.Name), cCtx.StringSlice(flagTag.Name))
					if err != nil {
						return err
					}
					cr, err := ingest.ParseConflictResolution(cCtx.String(flagConflictResolution.Name))
					if err != nil {
						return err
					}
					return submitIntake(cCtx.Context, newClient(cCtx), os.Stdout,
						interfaces.LibraryID(cCtx.String(flagLibrary.Name)),
						interfaces.EntryID(cCtx.String(flagEntry.Name)),
						metadata, cr, cCtx.StringSlice(flagURL.Name))
				},
			},
			{
				Name:  "status",
				Usage: "list ingestions and their download progress",
				Flags: []cli.Flag{flagState, flagRecord},
				Action: func(cCtx *cli.Context) error {
					if id := cCtx.String(flagRecord.Name); id != "" {
						return showRecord(cCtx.Context, newClient(cCtx), os.Stdout, id)
					}
					var states []ingest.RecordState
					for _, s := range cCtx.StringSlice(flagState.Name) {
						states = append(states, ingest.RecordState(s))
					}
					return showStatus(cCtx.Context, newClient(cCtx), os.Stdout, states)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) *clients.Client {
	return clients.NewClient(cCtx.String(flags.ServerAddrFlag.Name), nil)
}
