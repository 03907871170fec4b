// Package main runs the tag mapper as a standalone process.
package main

import (
	"context"
	"io"
	"os"

	"github.com/edaniels/golog"
	"go.viam.com/utils"

	tagmapper "github.com/viamrobotics/viam-tag-mapper"
)

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"0,required,usage=tag mapper config file"`
	Poses      string `flag:"poses,usage=YAML tag pose stream to read; - for stdin"`
}

func main() {
	utils.ContextualMain(mainWithArgs, golog.NewLogger("tagMapperModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg, err := tagmapper.LoadConfig(argsParsed.ConfigFile)
	if err != nil {
		return err
	}

	svc, err := tagmapper.New(ctx, cfg, tagmapper.Dependencies{}, logger)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(svc.Close)

	svc.StartMarkerProcess(ctx, nil)

	if argsParsed.Poses != "" {
		in, err := openPoses(argsParsed.Poses)
		if err != nil {
			return err
		}
		defer utils.UncheckedErrorFunc(in.Close)
		utils.PanicCapturingGo(func() {
			if err := svc.ReadPoses(ctx, in); err != nil {
				logger.Errorw("error reading tag poses", "error", err)
			}
		})
	}

	<-ctx.Done()
	return nil
}

func openPoses(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	//nolint:gosec
	return os.Open(path)
}
