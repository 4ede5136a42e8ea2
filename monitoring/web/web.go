// Package web includes the page that the monitor serves.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path"
	"runtime"
	"strconv"

	"github.com/sirupsen/logrus"
)

//go:embed dist/*
var staticAssets embed.FS

// DevEnv names the environment variable that makes the monitor serve the page
// from the source tree, so that it can be edited without rebuilding.
const DevEnv = "MEMBUS_MONITOR_DEV"

// GetAssets returns the files of the page.
func GetAssets() http.FileSystem {
	if devMode() {
		_, file, _, ok := runtime.Caller(0)
		if !ok {
			logrus.Panic("cannot locate the monitor page")
		}

		dir := path.Join(path.Dir(file), "dist")
		logrus.WithField("path", dir).Info("serving the monitor page from disk")

		return http.Dir(dir)
	}

	dist, err := fs.Sub(staticAssets, "dist")
	if err != nil {
		logrus.Panic(err)
	}

	return http.FS(dist)
}

func devMode() bool {
	dev, err := strconv.ParseBool(os.Getenv(DevEnv))
	return err == nil && dev
}
