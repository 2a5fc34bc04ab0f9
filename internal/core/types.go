package core

import "herbtrace/pkg/domain"

type (
	Event       = domain.Event
	Batch       = domain.Batch
	EventKind   = domain.EventKind
	BatchStatus = domain.BatchStatus
	RecordStore = domain.RecordStore
	Location    = domain.Location
)

const (
	KindCollection    = domain.KindCollection
	KindQualityTest   = domain.KindQualityTest
	KindProcessing    = domain.KindProcessing
	KindManufacturing = domain.KindManufacturing
)

const (
	StatusInitialized   = domain.StatusInitialized
	StatusCollected     = domain.StatusCollected
	StatusQualityTested = domain.StatusQualityTested
	StatusProcessed     = domain.StatusProcessed
	StatusManufactured  = domain.StatusManufactured
)
