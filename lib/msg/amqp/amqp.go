// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"log"
	"strconv"
	"sync"

	"github.com/streadway/amqp"

	"github.com/tarancss/audittrail/lib/msg"
)

// Exchanges and queues.
const (
	exReqs   = "wr"
	exEvents = "ae"
	qReqs    = "wr-watcher"
	qEvents  = "ae-auditd"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	l    sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (*Amqp, error) {
	r := Amqp{}

	var err error
	if r.conn, err = amqp.Dial(uri); err != nil {
		return nil, err
	}

	log.Printf("Connected to %s", uri)

	return &r, nil
}

// Setup obtains an amqp channel and declares the message broker exchanges:
//
// - wr ("watch requests"): the audit service publishes requests to this exchange
//
// - ae ("audit events"): the watcher publishes events to this exchange
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	// declare exchanges
	if err = channel.ExchangeDeclare(exReqs, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	return channel.ExchangeDeclare(exEvents, "topic", true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.l.Lock()
	defer r.l.Unlock()

	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel:%e", err)
		}

		r.ch = nil

		log.Printf("amqp.Channel closed!")
	}

	return r.conn.Close()
}

// channel returns the shared channel, obtaining it if not present.
func (r *Amqp) channel() (*amqp.Channel, error) {
	r.l.Lock()
	defer r.l.Unlock()

	if r.ch == nil {
		var err error
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, err
		}
	}

	return r.ch, nil
}

// SendEvents publishes audit events to the "ae" exchange
func (r *Amqp) SendEvents(evs []msg.AuditEvent) error {
	ch, err := r.channel()
	if err != nil {
		return err
	}

	for _, e := range evs {
		var jsonDoc []byte
		if jsonDoc, err = json.Marshal(e); err != nil {
			return err
		}

		m := amqp.Publishing{
			Headers:     amqp.Table{"x-event-name": e.Kind + "." + e.Address},
			Body:        jsonDoc,
			ContentType: "application/json",
		}

		if err = ch.Publish(exEvents, "event."+e.Kind+"."+e.Address, false, false, m); err != nil {
			log.Printf("[%s] Error sending %s event to message broker %e", e.Address, e.Kind, err)

			return err
		}
	}

	return nil
}

// SendRequest publishes a new watch request to the "wr" exchange
func (r *Amqp) SendRequest(wr msg.WatchReq) error {
	jsonDoc, err := json.Marshal(wr)
	if err != nil {
		return err
	}

	ch, err := r.channel()
	if err != nil {
		return err
	}

	m := amqp.Publishing{
		Headers:     amqp.Table{"x-wreq-name": wr.Address},
		Body:        jsonDoc,
		ContentType: "application/json",
	}

	if err = ch.Publish(exReqs, "req."+strconv.Itoa(wr.Act)+"."+wr.Address, false, false, m); err != nil {
		log.Printf("[%s] Error sending request to message broker %e", wr.Address, err)
	}

	return err
}

// consume declares the queue, binds it to the exchange and returns its deliveries.
func (r *Amqp) consume(queue, key, exchange, consumer string) (<-chan amqp.Delivery, error) {
	ch, err := r.channel()
	if err != nil {
		return nil, err
	}

	if _, err = ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, err
	}

	if err = ch.QueueBind(queue, key, exchange, false, nil); err != nil {
		return nil, err
	}

	return ch.Consume(queue, consumer, false, false, false, false, nil)
}

// GetEvents consumes events from the "ae" exchange pushing them to the returned channel. The Mutex pointer is provided
// to ensure the consumed message has been fully dealt with by the management function, so the message consumed is
// only acknowledged when the mutex is unlocked.
func (r *Amqp) GetEvents(mut *sync.Mutex) (<-chan msg.AuditEvent, <-chan error, error) {
	msgs, err := r.consume(qEvents, "event.*.*", exEvents, "auditd")
	if err != nil {
		return nil, nil, err
	}

	eves := make(chan msg.AuditEvent)
	errs := make(chan error)

	go func() {
		defer close(eves)

		for m := range msgs {
			var e msg.AuditEvent
			if err := json.Unmarshal(m.Body, &e); err != nil {
				_ = m.Nack(false, false)
				errs <- err

				continue
			}

			eves <- e

			mut.Lock() // wait for the audit service to finish processing the event
			_ = m.Ack(false)
		}
	}()

	return eves, errs, nil
}

// GetReqs consumes requests from the "wr" exchange pushing them to the returned channel. The Mutex pointer is provided
// to ensure the consumed message has been fully dealt with by the management function, so the message consumed is
// only acknowledged when the mutex is unlocked.
func (r *Amqp) GetReqs(mut *sync.Mutex) (<-chan msg.WatchReq, <-chan error, error) {
	msgs, err := r.consume(qReqs, "req.*.*", exReqs, "watcher")
	if err != nil {
		return nil, nil, err
	}

	reqs := make(chan msg.WatchReq)
	errs := make(chan error)

	go func() {
		defer close(reqs)

		for m := range msgs {
			var req msg.WatchReq
			if err := json.Unmarshal(m.Body, &req); err != nil {
				_ = m.Nack(false, false)
				errs <- err

				continue
			}

			reqs <- req

			mut.Lock() // wait for the watcher to finish processing the request
			_ = m.Ack(false)
		}
	}()

	return reqs, errs, nil
}
