// Package main: watcher service.
//
// The watcher needs the same database the audit service uses, as the audit service replies the watched records from
// it.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tarancss/audittrail/lib/config"
	"github.com/tarancss/audittrail/lib/ledger"
	"github.com/tarancss/audittrail/lib/msg"
	"github.com/tarancss/audittrail/lib/msg/amqp"
	"github.com/tarancss/audittrail/lib/store/db"
	"github.com/tarancss/audittrail/watcher"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100/metrics")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	log.Printf("Database:%s broker:%s ledger:%+v poll:%ds", conf.DBType, conf.MbType, conf.Ledger, conf.Poll)

	// connect to database
	log.Printf("Connecting to database:%+v\n", conf.DBType)

	dbConn, err := db.New(conf.DBType, conf.DBConn)
	if err != nil {
		panic(err)
	}

	// load the ledger client
	l, err := ledger.Init(conf.Ledger)
	if err != nil {
		panic(err)
	}

	log.Print("Ledger client loaded")

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			log.Printf("Metrics API: %v", http.ListenAndServe(":9100", h))
		}()
	}

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(nil); err != nil {
			panic(err)
		}

		defer func() {
			errClose := mb.Close()
			log.Printf("Closing messageBroker: %v", errClose)
		}()
	default:
		// the in-memory broker only works within the audit service process
		log.Fatalf("Unsupported message broker type: %s\n", conf.MbType)
	}

	// create watcher service
	w := watcher.New(conf.DBType, dbConn, mb, l, time.Duration(conf.Poll)*time.Second,
		time.Duration(conf.Timeout)*time.Second)
	defer w.Close()

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		w.Stop()
	}()

	// launch watcher and wait for it to finish
	ret, err := w.Watch()
	if err != nil {
		log.Printf("Watch: %v", err)

		return
	}

	log.Printf("Watch: %s\n", <-ret)
}
