package audit

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Router returns the RESTful API routes.
func (a *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", a.homeHandler)
	r.HandleFunc("/identity", a.identityHandler).Methods("GET")                            // local identity
	r.HandleFunc("/audit/{counterparty}", a.auditHandler).Methods("GET", "POST")           // view or create a record
	r.HandleFunc("/audit/{counterparty}/entries", a.appendHandler).Methods("POST")         // append an entry
	r.HandleFunc("/audit/{counterparty}/entries/{index}", a.resolveHandler).Methods("PUT") // resolve an entry
	r.HandleFunc("/watch/{counterparty}", a.watchHandler).Methods("POST", "DELETE")        // (un)watch a record
	r.HandleFunc("/watch", a.watchedHandler).Methods("GET")                                // watched records
	r.HandleFunc("/receipts", a.receiptsHandler).Methods("GET")                            // submission receipts

	return r
}

// Init sets up and starts the http/https server to service the RESTful API for the audit service. If sslPort, sslCert
// and sslKey are informed, it will start an https (TLS) server on the specified endpoint. It returns when Stop is
// called.
func (a *Service) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	r := a.Router()
	// submissions wait for confirmation
	wt := timeout*time.Second + a.opts.Timeout

	// start http server
	if port != "" {
		a.s = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + port,
			WriteTimeout: wt,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = a.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		a.ss = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + sslPort,
			WriteTimeout: wt,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = a.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-a.sc

	return fmt.Sprintf("shutdown http server:%v, https server:%v", err, errTLS)
}
