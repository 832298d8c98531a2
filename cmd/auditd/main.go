// Package main: audit service.
//
// The service signs with the wallet in the configuration, a mnemonic, a base58 secret or a keygen file. Without any of
// them it runs read only: records can be viewed for the identity given in the requests but not modified. When the
// message broker type is "memory" the watcher runs inside this process, as no other process can reach the broker.
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

	"github.com/tarancss/audittrail/audit"
	"github.com/tarancss/audittrail/lib/config"
	"github.com/tarancss/audittrail/lib/keystore"
	"github.com/tarancss/audittrail/lib/ledger"
	"github.com/tarancss/audittrail/lib/msg"
	"github.com/tarancss/audittrail/lib/msg/amqp"
	"github.com/tarancss/audittrail/lib/msg/memory"
	"github.com/tarancss/audittrail/lib/store"
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

	logged := conf
	if logged.Mnemonic != "" {
		logged.Mnemonic = "********"
	}

	if logged.Secret != "" {
		logged.Secret = "********"
	}

	log.Printf("Configuration:%+v", logged)

	// connect to database
	var dbConn store.DB

	if conf.DBConn != "" || conf.DBType == db.MEMORY {
		if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
			panic(err)
		}

		log.Printf("Connecting to database:%+v\n", conf.DBType)
	}

	// load the ledger client
	l, err := ledger.Init(conf.Ledger)
	if err != nil {
		panic(err)
	}

	log.Printf("Ledger client loaded, program %s", l.ProgramID())

	// load wallet
	var w audit.Wallet

	p, err := keystore.Load(conf.Mnemonic, conf.Secret, conf.Keypair)
	if err != nil {
		panic(err)
	}

	if p != nil {
		w = p
	} else {
		log.Print("No wallet configured, running read only")
	}

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
	case "memory":
		mb = memory.New()
	default:
		log.Printf("Unknown message broker type: %s\n", conf.MbType)
	}

	timeout := time.Duration(conf.Timeout) * time.Second

	// create audit service, it closes broker, ledger and database when stopped
	a := audit.New(conf.DBType, dbConn, mb, l, w, audit.Options{
		Timeout:   timeout,
		RateLimit: conf.RateLimit,
		RateBurst: conf.RateBurst,
		Sessions:  conf.Sessions,
	})

	// in-process watcher
	var (
		wt   *watcher.Watcher
		wret chan string
	)

	if conf.MbType == "memory" && dbConn != nil {
		wt = watcher.New(conf.DBType, dbConn, mb, l, time.Duration(conf.Poll)*time.Second, timeout)
		if wret, err = wt.Watch(); err != nil {
			panic(err)
		}
	}

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		if wt != nil {
			wt.Stop()
			log.Printf("Watch: %s\n", <-wret)
		}

		a.Stop()
		close(finish)
	}()

	// manage watcher events
	if mb != nil {
		if err := a.ManageEvents(); err != nil {
			log.Printf("Error setting up broker readers for events:%e", err)
		}
	}

	// init RESTful API, wait for its return and log response
	log.Printf("Audit: %s\n", a.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}
