// Package domain defines the persistent entities, event kinds, typed errors,
// and record-store contract used by herbtrace.
package domain

import (
	"encoding/json"
	"time"
)

// DocType identifies the type of JSON document stored in the ledger.
type DocType string

// Document type identifiers used as the docType discriminator on stored records.
const (
	// DocBatch identifies a batch rollup record.
	DocBatch DocType = "batch"
	// DocCollectionEvent identifies a collection event record.
	DocCollectionEvent DocType = "collectionEvent"
	// DocQualityTestEvent identifies a quality test event record.
	DocQualityTestEvent DocType = "qualityTestEvent"
	// DocProcessingEvent identifies a processing event record.
	DocProcessingEvent DocType = "processingEvent"
	// DocManufacturingEvent identifies a manufacturing event record.
	DocManufacturingEvent DocType = "manufacturingEvent"
)

// EventKind enumerates the supply-chain stages an event can record.
type EventKind string

// Supported event kinds, in lifecycle order.
const (
	KindCollection    EventKind = "COLLECTION"
	KindQualityTest   EventKind = "QUALITY_TEST"
	KindProcessing    EventKind = "PROCESSING"
	KindManufacturing EventKind = "MANUFACTURING"
)

// DocType returns the document discriminator for events of this kind.
func (k EventKind) DocType() DocType {
	switch k {
	case KindCollection:
		return DocCollectionEvent
	case KindQualityTest:
		return DocQualityTestEvent
	case KindProcessing:
		return DocProcessingEvent
	case KindManufacturing:
		return DocManufacturingEvent
	}
	return ""
}

// DisplayName returns the human-readable label used by statistics endpoints.
// Unknown kinds map to "Unknown".
func (k EventKind) DisplayName() string {
	switch k {
	case KindCollection:
		return "Collection"
	case KindQualityTest:
		return "Quality Test"
	case KindProcessing:
		return "Processing"
	case KindManufacturing:
		return "Manufacturing"
	}
	return "Unknown"
}

// Valid reports whether k is one of the supported event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindCollection, KindQualityTest, KindProcessing, KindManufacturing:
		return true
	}
	return false
}

// BatchStatus mirrors the kind of the most recently appended event.
type BatchStatus string

// Batch lifecycle statuses. StatusInitialized is only produced by ledger
// bootstrap seeding; every subsequent status is set by an event append.
const (
	StatusInitialized   BatchStatus = "INITIALIZED"
	StatusCollected     BatchStatus = "COLLECTED"
	StatusQualityTested BatchStatus = "QUALITY_TESTED"
	StatusProcessed     BatchStatus = "PROCESSED"
	StatusManufactured  BatchStatus = "MANUFACTURED"
)

// Status returns the batch status an event of this kind drives the batch to.
func (k EventKind) Status() BatchStatus {
	switch k {
	case KindCollection:
		return StatusCollected
	case KindQualityTest:
		return StatusQualityTested
	case KindProcessing:
		return StatusProcessed
	case KindManufacturing:
		return StatusManufactured
	}
	return ""
}

// Location is the parsed geographic payload attached to collection events.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
	Zone      string  `json:"zone,omitempty"`
}

// CollectionDetails is the kind-specific payload of a collection event.
type CollectionDetails struct {
	HerbSpecies  string   `json:"herbSpecies"`
	Weight       float64  `json:"weight"`
	HarvestDate  string   `json:"harvestDate"`
	Location     Location `json:"location"`
	QualityGrade string   `json:"qualityGrade,omitempty"`
}

// TestResults is the kind-specific payload of a quality test event.
type TestResults struct {
	MoistureContent float64 `json:"moistureContent"`
	Purity          float64 `json:"purity"`
	PesticideLevel  float64 `json:"pesticideLevel"`
	TestMethod      string  `json:"testMethod,omitempty"`
}

// ProcessingDetails is the kind-specific payload of a processing event.
// Temperature is optional; nil means the step recorded no temperature.
type ProcessingDetails struct {
	Method      string   `json:"method"`
	Temperature *float64 `json:"temperature,omitempty"`
	Duration    string   `json:"duration,omitempty"`
	Yield       float64  `json:"yield"`
}

// ProductDetails is the kind-specific payload of a manufacturing event.
type ProductDetails struct {
	ProductName string  `json:"productName"`
	ProductType string  `json:"productType,omitempty"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit,omitempty"`
	ExpiryDate  string  `json:"expiryDate,omitempty"`
}

// Event is one immutable supply-chain step. Exactly one payload variant is
// populated, matching EventType. Events are append-only: the core never
// mutates or deletes a persisted event.
type Event struct {
	DocType         DocType   `json:"docType"`
	EventID         string    `json:"eventId"`
	EventType       EventKind `json:"eventType"`
	BatchID         string    `json:"batchId"`
	ParentEventID   string    `json:"parentEventId,omitempty"`
	ParticipantName string    `json:"participantName"`
	Timestamp       time.Time `json:"timestamp"`

	Collection *CollectionDetails `json:"collection,omitempty"`
	Test       *TestResults       `json:"testResults,omitempty"`
	Processing *ProcessingDetails `json:"processingDetails,omitempty"`
	Product    *ProductDetails    `json:"productDetails,omitempty"`

	Notes        string `json:"notes,omitempty"`
	BlobRef      string `json:"blobRef,omitempty"`
	IntegrityTag string `json:"integrityTag,omitempty"`
}

// Root reports whether the event is a provenance root (no parent pointer).
func (e Event) Root() bool { return e.ParentEventID == "" }

// Batch is the mutable rollup aggregating all events of one production lot.
// Events holds event ids in append order; it never contains duplicates and
// every id resolves to a persisted event with a matching BatchID.
type Batch struct {
	DocType       DocType     `json:"docType"`
	BatchID       string      `json:"batchId"`
	HerbSpecies   string      `json:"herbSpecies"`
	Creator       string      `json:"creator"`
	CreationTime  time.Time   `json:"creationTime"`
	LastUpdated   time.Time   `json:"lastUpdated"`
	Events        []string    `json:"events"`
	CurrentStatus BatchStatus `json:"currentStatus"`
}

// Clone returns a deep copy of the batch.
func (b Batch) Clone() Batch {
	cp := b
	cp.Events = append([]string(nil), b.Events...)
	return cp
}

// HasEvent reports whether the rollup already references the given event id.
func (b Batch) HasEvent(eventID string) bool {
	for _, id := range b.Events {
		if id == eventID {
			return true
		}
	}
	return false
}

// DocTypeOf extracts the docType discriminator from a raw stored document.
// Returns an empty DocType for documents that do not carry one.
func DocTypeOf(raw []byte) DocType {
	var probe struct {
		DocType DocType `json:"docType"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.DocType
}
