// Package transport is the Transport Adapter: a thin shim around an
// MQTT-like bus providing subscribe/publish, a last-will declaration, and
// a JSON codec that tags inbound payloads by topic. Grounded in
// constructor/lifecycle shape on internal/gossip/server.go (NewX,
// ListenAndServe(ctx) blocking until cancellation, structured zap
// logging at each rejection path); the wire transport itself follows the
// retrieved pack's actual paho.mqtt.golang usage (client options:
// AutoReconnect, CleanSession, Subscribe with token.Wait(), Publish with a
// bounded wait). The adapter always needs a client; tests avoid the bus by
// giving the broker a recording Publisher instead of an Adapter.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/cockroachdb/errors"

	"github.com/EverettRichards/edge-vehicle-server/internal/clientset"
	"github.com/EverettRichards/edge-vehicle-server/internal/config"
	"github.com/EverettRichards/edge-vehicle-server/internal/observability"
)

// Topics, per spec §6.
const (
	TopicNewClient     = "new_client"
	TopicEndClient     = "end_client"
	TopicData          = "data_V2B"
	TopicRequestConfig = "request_config"
	TopicConfig        = "config"
	TopicVerdict       = "verdict"
	TopicFinished      = "finished"

	// sourceName is injected into every outbound payload.
	sourceName = "main_broker"

	publishTimeout = 2 * time.Second
)

// ErrBus wraps connect/publish failures from the underlying MQTT client.
var ErrBus = errors.New("transport: bus error")

// Dispatcher receives decoded inbound messages. Implemented by the
// broker. A message that fails to parse into its topic's variant is
// logged and dropped before Dispatcher is ever called (spec §7
// DecodeError policy).
type Dispatcher interface {
	HandleNewClient(source string)
	HandleEndClient(source string)
	HandleCategoricalObservation(source string, obs clientset.CategoricalObservation, receivedAt time.Time)
	HandleParkingObservation(source string, obs clientset.ParkingObservation, receivedAt time.Time)
	HandleConfigRequest()
}

// Adapter wraps an mqtt.Client with the broker's topic router and codec.
type Adapter struct {
	client  mqtt.Client
	variant config.Variant
	log     *zap.Logger
	metrics *observability.Metrics // optional; nil disables metric recording
}

// Options configures a new Adapter.
type Options struct {
	BrokerIP        string
	PortNum         int
	ClientID        string
	Variant         config.Variant
	LastWillTopic   string
	LastWillMessage string
}

// New builds an Adapter and its underlying mqtt.Client, but does not
// connect. LastWillTopic/LastWillMessage follow the variant: the
// categorical broker wills "msg_B2V", the parking broker wills
// "finished", both carrying {"message":"I'm offline"}. metrics may be nil
// (metric recording is then skipped).
func New(opts Options, log *zap.Logger, metrics *observability.Metrics) *Adapter {
	will, _ := json.Marshal(map[string]string{
		"message": opts.LastWillMessage,
		"source":  sourceName,
	})

	mqttOpts := mqtt.NewClientOptions()
	mqttOpts.AddBroker(fmt.Sprintf("tcp://%s:%d", opts.BrokerIP, opts.PortNum))
	mqttOpts.SetClientID(opts.ClientID)
	mqttOpts.SetAutoReconnect(true)
	mqttOpts.SetCleanSession(true)
	mqttOpts.SetKeepAlive(60 * time.Second)
	mqttOpts.SetWill(opts.LastWillTopic, string(will), 0, false)

	return &Adapter{
		client:  mqtt.NewClient(mqttOpts),
		variant: opts.Variant,
		log:     log,
		metrics: metrics,
	}
}

// Connect opens the bus connection. A connect failure is fatal (spec §7
// BusError policy: "fatal at connect time").
func (a *Adapter) Connect() error {
	token := a.client.Connect()
	if token.Wait() && token.Error() != nil {
		return errors.Wrapf(ErrBus, "connect: %v", token.Error())
	}
	return nil
}

// Close disconnects from the bus.
func (a *Adapter) Close() {
	a.client.Disconnect(250)
}

// SubscribeAll registers handlers for every inbound topic against d.
func (a *Adapter) SubscribeAll(d Dispatcher) error {
	subs := map[string]mqtt.MessageHandler{
		TopicNewClient:     a.handleLifecycle(d.HandleNewClient),
		TopicEndClient:     a.handleLifecycle(d.HandleEndClient),
		TopicData:          a.handleData(d),
		TopicRequestConfig: func(mqtt.Client, mqtt.Message) { d.HandleConfigRequest() },
	}
	for topic, handler := range subs {
		token := a.client.Subscribe(topic, 0, handler)
		if token.Wait() && token.Error() != nil {
			return errors.Wrapf(ErrBus, "subscribe %q: %v", topic, token.Error())
		}
	}
	return nil
}

func (a *Adapter) handleLifecycle(fn func(source string)) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		var wire clientLifecycleWire
		if err := json.Unmarshal(msg.Payload(), &wire); err != nil {
			a.log.Warn("transport: decode error, dropping message",
				zap.String("topic", msg.Topic()), zap.Error(err))
			a.recordDecodeError(msg.Topic())
			return
		}
		fn(wire.Source)
	}
}

func (a *Adapter) handleData(d Dispatcher) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		now := time.Now()
		switch a.variant {
		case config.VariantParking:
			var wire parkingWire
			if err := json.Unmarshal(msg.Payload(), &wire); err != nil {
				a.log.Warn("transport: decode error, dropping message",
					zap.String("topic", msg.Topic()), zap.Error(err))
				a.recordDecodeError(msg.Topic())
				return
			}
			obs := make(clientset.ParkingObservation, 0, len(wire.ObjectList))
			for _, qr := range wire.ObjectList {
				obs = append(obs, clientset.QRDetection{
					Text:     qr.Text,
					X:        qr.Position.X,
					Y:        qr.Position.Y,
					Distance: qr.Distance,
				})
			}
			d.HandleParkingObservation(wire.Source, obs, now)
		default:
			var wire categoricalWire
			if err := json.Unmarshal(msg.Payload(), &wire); err != nil {
				a.log.Warn("transport: decode error, dropping message",
					zap.String("topic", msg.Topic()), zap.Error(err))
				a.recordDecodeError(msg.Topic())
				return
			}
			obs := make(clientset.CategoricalObservation, len(wire.ObjectList))
			for slot, t := range wire.ObjectList {
				if !t.Present {
					continue
				}
				obs[slot] = clientset.SlotReport{
					Label:      t.Label,
					Confidence: t.Confidence,
					Distance:   t.Distance,
				}
			}
			d.HandleCategoricalObservation(wire.Source, obs, now)
		}
	}
}

// Publish marshals value, injects source, and publishes at QoS 0, retain
// false, logging (not propagating) publish failures — callers should
// treat a non-nil error as already logged and continue the verdict cycle
// (spec §7: "logged-and-continue at publish time").
func (a *Adapter) Publish(topic string, value map[string]any) error {
	if value == nil {
		value = map[string]any{}
	}
	value["source"] = sourceName

	payload, err := json.Marshal(value)
	if err != nil {
		a.log.Error("transport: encode error", zap.String("topic", topic), zap.Error(err))
		return errors.Wrapf(ErrBus, "encode %q: %v", topic, err)
	}

	token := a.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		a.log.Error("transport: publish timed out", zap.String("topic", topic))
		a.recordPublishFailure(topic)
		return errors.Wrapf(ErrBus, "publish %q: timed out", topic)
	}
	if token.Error() != nil {
		a.log.Error("transport: publish failed", zap.String("topic", topic), zap.Error(token.Error()))
		a.recordPublishFailure(topic)
		return errors.Wrapf(ErrBus, "publish %q: %v", topic, token.Error())
	}
	return nil
}

// PublishRaw publishes pre-encoded bytes verbatim (used to republish the
// scene configuration document byte-for-byte).
func (a *Adapter) PublishRaw(topic string, payload []byte) error {
	token := a.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		a.log.Error("transport: publish timed out", zap.String("topic", topic))
		a.recordPublishFailure(topic)
		return errors.Wrapf(ErrBus, "publish %q: timed out", topic)
	}
	if token.Error() != nil {
		a.log.Error("transport: publish failed", zap.String("topic", topic), zap.Error(token.Error()))
		a.recordPublishFailure(topic)
		return errors.Wrapf(ErrBus, "publish %q: %v", topic, token.Error())
	}
	return nil
}

func (a *Adapter) recordDecodeError(topic string) {
	if a.metrics != nil {
		a.metrics.DecodeErrorsTotal.WithLabelValues(topic).Inc()
	}
}

func (a *Adapter) recordPublishFailure(topic string) {
	if a.metrics != nil {
		a.metrics.PublishFailuresTotal.WithLabelValues(topic).Inc()
	}
}
