// The flowanon utility anonymizes flow data in configurable pipelines. Flows
// are read from collectors, Kafka or files, have their addresses, MACs, AS
// numbers, ports and timestamps replaced consistently and are written out
// for sharing.
//
// The main entrypoint accepts command line flags to point to a configuration
// file and to establish the log level.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bwNetFlow/flowanon/pipeline"
	"github.com/bwNetFlow/flowanon/segments"
	"github.com/hashicorp/logutils"
	"gopkg.in/natefinch/lumberjack.v2"

	_ "github.com/bwNetFlow/flowanon/segments/export/prometheus"

	_ "github.com/bwNetFlow/flowanon/segments/filter/flowfilter"

	_ "github.com/bwNetFlow/flowanon/segments/input/goflow"
	_ "github.com/bwNetFlow/flowanon/segments/input/kafkaconsumer"
	_ "github.com/bwNetFlow/flowanon/segments/input/stdin"

	_ "github.com/bwNetFlow/flowanon/segments/modify/anonymize"
	_ "github.com/bwNetFlow/flowanon/segments/modify/dropfields"

	_ "github.com/bwNetFlow/flowanon/segments/noop"

	_ "github.com/bwNetFlow/flowanon/segments/output/csv"
	_ "github.com/bwNetFlow/flowanon/segments/output/json"
	_ "github.com/bwNetFlow/flowanon/segments/output/kafkaproducer"
	_ "github.com/bwNetFlow/flowanon/segments/output/sqlite"

	_ "github.com/bwNetFlow/flowanon/segments/print/count"
	_ "github.com/bwNetFlow/flowanon/segments/print/printflowdump"
)

func main() {
	configfile := flag.String("c", "config.yml", "location of the config file in yml format")
	loglevel := flag.String("l", "warning", "loglevel: one of 'info', 'warning' or 'error'")
	logfile := flag.String("o", "", "write logs to this file instead of stderr, rotated at 100 MB")
	listSegments := flag.Bool("s", false, "list all available segments and exit")
	flag.Parse()

	if *listSegments {
		fmt.Println(strings.Join(segments.RegisteredNames(), "\n"))
		return
	}

	var writer io.Writer = os.Stderr
	if *logfile != "" {
		rotating := &lumberjack.Logger{
			Filename:   *logfile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			Compress:   true,
		}
		defer rotating.Close()
		writer = rotating
	}
	log.SetOutput(&logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"info", "warning", "error"},
		MinLevel: logutils.LogLevel(*loglevel),
		Writer:   writer,
	})

	config, err := os.ReadFile(*configfile)
	if err != nil {
		log.Printf("[error] reading config file: %s", err)
		return
	}
	pipeline := pipeline.NewFromConfig(config)
	pipeline.AutoDrain()

	// SIGUSR1 is sent by segments which ran out of input
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGUSR1)
	<-sigs

	pipeline.Close()
}
