package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ccfd-server/internal/storage"
)

// bundle packs model and scaler artifacts into a bbolt file the server reads
// through bolt://<file>#<name> locations.
//
//	bundle -out models.db rf=models/rf.json scaler=models/scaler.json models/ae.onnx
//	bundle -out models.db -list
func main() {
	var (
		outPath  = flag.String("out", "models.db", "Path to the bundle file")
		list     = flag.Bool("list", false, "List the bundle contents and exit")
		logLevel = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *list {
		if err := listBundle(*outPath); err != nil {
			log.Fatal().Err(err).Str("bundle", *outPath).Msg("failed to list bundle")
		}
		return
	}

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: bundle -out models.db [name=]path ...")
		os.Exit(2)
	}

	bundle, err := storage.New(*outPath)
	if err != nil {
		log.Fatal().Err(err).Str("bundle", *outPath).Msg("failed to open bundle")
	}
	defer bundle.Close()

	for _, arg := range flag.Args() {
		name, path := parseArtifactArg(arg)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to read artifact")
		}
		if err := bundle.Put(name, data); err != nil {
			log.Fatal().Err(err).Str("name", name).Msg("failed to store artifact")
		}
		log.Info().Str("name", name).Str("path", path).Int("bytes", len(data)).Msg("artifact stored")
	}
}

// parseArtifactArg splits "name=path". A bare path is named after its file name
// without extension.
func parseArtifactArg(arg string) (name, path string) {
	if i := strings.Index(arg, "="); i > 0 {
		return arg[:i], arg[i+1:]
	}
	base := filepath.Base(arg)
	return strings.TrimSuffix(base, filepath.Ext(base)), arg
}

func listBundle(path string) error {
	bundle, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer bundle.Close()

	infos, err := bundle.List()
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Printf("%-24s %10d  %s  %s\n", info.Name, info.Size, info.SHA256, info.StoredAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
