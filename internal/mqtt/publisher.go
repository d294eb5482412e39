// Package mqtt veröffentlicht Sichtungen und Statusmeldungen an einen
// MQTT-Broker. Das Paket konsumiert nichts; der Broker dient als
// Anschlusspunkt für Hausautomatisierung und andere Abnehmer.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"facetrack-go/config"
	"facetrack-go/internal/core/model"
)

// publishTimeout begrenzt das Warten auf die Broker-Bestätigung.
const publishTimeout = 5 * time.Second

// Publisher ist der MQTT-Client für ausgehende Meldungen
type Publisher struct {
	config config.MQTTConfig
	client mqtt.Client
	log    *log.Entry
}

// sightingMessage ist die Payload einer Sichtung auf {prefix}/sightings
type sightingMessage struct {
	EventID    string    `json:"event_id"`
	Name       string    `json:"name"`
	CameraID   string    `json:"camera_id"`
	Location   string    `json:"location"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
	TrackID    uint64    `json:"track_id"`
	ImagePath  string    `json:"image_path,omitempty"`
}

// NewPublisher erstellt einen neuen MQTT-Publisher
func NewPublisher(cfg config.MQTTConfig) *Publisher {
	return &Publisher{
		config: cfg,
		log:    log.WithField("component", "mqtt"),
	}
}

// Start verbindet den Publisher mit dem Broker. Ist MQTT in der
// Konfiguration deaktiviert, passiert nichts.
func (p *Publisher) Start() error {
	if !p.config.Enabled {
		p.log.Info("MQTT publisher is disabled in configuration")
		return nil
	}

	// MQTT-Client-Optionen konfigurieren
	opts := mqtt.NewClientOptions()

	// Broker-URL erstellen
	brokerURL := fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port)
	opts.AddBroker(brokerURL)

	// Client-ID
	opts.SetClientID(p.config.ClientID)

	// Optionale Authentifizierung
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	// Connection-Callbacks konfigurieren
	opts.SetOnConnectHandler(p.onConnectHandler)
	opts.SetConnectionLostHandler(p.connectionLostHandler)

	// Automatische Wiederverbindung
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	// Client erstellen
	p.client = mqtt.NewClient(opts)

	// Verbindung herstellen
	p.log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		p.log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	return nil
}

// Stop meldet den Publisher als offline und trennt die Verbindung
func (p *Publisher) Stop() {
	if p.client != nil && p.client.IsConnected() {
		p.log.Info("Disconnecting MQTT publisher...")
		if err := p.PublishRetain(p.statusTopic(), "offline"); err != nil {
			p.log.Warnf("Failed to publish offline status: %v", err)
		}
		p.client.Disconnect(250) // 250ms Wartezeit
		p.log.Info("MQTT publisher disconnected")
	}
}

// IsConnected prüft, ob der Publisher verbunden ist
func (p *Publisher) IsConnected() bool {
	return p.client != nil && p.client.IsConnected()
}

// onConnectHandler wird aufgerufen, wenn die Verbindung hergestellt wurde
func (p *Publisher) onConnectHandler(client mqtt.Client) {
	p.log.Infof("Connected to MQTT broker at %s:%d", p.config.Broker, p.config.Port)
	if err := p.PublishRetain(p.statusTopic(), "online"); err != nil {
		p.log.Errorf("Failed to publish online status: %v", err)
	}
}

// connectionLostHandler wird aufgerufen, wenn die Verbindung verloren geht
func (p *Publisher) connectionLostHandler(client mqtt.Client, err error) {
	p.log.Errorf("MQTT connection lost: %v", err)
}

// BroadcastSighting veröffentlicht eine gespeicherte Sichtung auf
// {prefix}/sightings. Ohne Verbindung wird die Meldung verworfen, der
// EventWriter darf hier nicht hängen bleiben.
func (p *Publisher) BroadcastSighting(ev model.SightingEvent, imagePath string) {
	if !p.IsConnected() {
		return
	}

	msg := sightingMessage{
		EventID:    ev.ID,
		Name:       ev.Identity,
		CameraID:   ev.CameraID,
		Location:   ev.Location,
		Timestamp:  ev.Timestamp,
		Confidence: ev.Confidence,
		TrackID:    ev.TrackID,
		ImagePath:  imagePath,
	}
	topic := p.config.TopicPrefix + "/sightings"
	if err := p.Publish(topic, msg); err != nil {
		p.log.Errorf("Failed to publish sighting %s: %v", ev.ID, err)
	}
}

// PublishCameraStatus veröffentlicht den Zustand einer Kamera als
// Retained-Nachricht auf {prefix}/cameras/{id}/status.
func (p *Publisher) PublishCameraStatus(cameraID string, status interface{}) {
	if !p.IsConnected() {
		return
	}

	topic := fmt.Sprintf("%s/cameras/%s/status", p.config.TopicPrefix, cameraID)
	if err := p.PublishRetain(topic, status); err != nil {
		p.log.Errorf("Failed to publish camera status for %s: %v", cameraID, err)
	}
}

// statusTopic ist das Retained-Topic für die Verfügbarkeit des Dienstes
func (p *Publisher) statusTopic() string {
	return p.config.TopicPrefix + "/status"
}

// PublishMessage veröffentlicht eine Nachricht an ein MQTT-Topic
func (p *Publisher) PublishMessage(topic string, payload interface{}, retain bool) error {
	if !p.IsConnected() {
		return fmt.Errorf("MQTT publisher is not connected")
	}

	var payloadBytes []byte
	var err error

	// Konvertiere die Payload in JSON, wenn es sich um ein Objekt handelt
	switch v := payload.(type) {
	case string:
		payloadBytes = []byte(v)
	case []byte:
		payloadBytes = v
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		payloadBytes = []byte(fmt.Sprintf("%v", v))
	default:
		// Versuche, das Objekt in JSON zu konvertieren
		payloadBytes, err = json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
	}

	token := p.client.Publish(topic, 1, retain, payloadBytes)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout publishing to topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, token.Error())
	}

	p.log.Debugf("Published message to topic: %s", topic)
	return nil
}

// PublishRetain veröffentlicht eine Nachricht mit dem Retain-Flag
func (p *Publisher) PublishRetain(topic string, payload interface{}) error {
	return p.PublishMessage(topic, payload, true)
}

// Publish veröffentlicht eine Nachricht ohne Retain-Flag
func (p *Publisher) Publish(topic string, payload interface{}) error {
	return p.PublishMessage(topic, payload, false)
}
