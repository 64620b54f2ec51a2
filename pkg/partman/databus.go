package partman

import (
	"encoding/binary"
	"fmt"
)

// NotifyData publishes a runtime data sample (spec.md §6.1, §4.7
// publishSample). Fire-and-forget, same as NotifyTrigger.
func (m *Manager) NotifyData(sample DataSample) {
	m.notifySample(Sample{Kind: SampleData, Data: sample})
}

// NotifyEvent publishes a runtime event sample.
func (m *Manager) NotifyEvent(sample EventSample) {
	m.notifySample(Sample{Kind: SampleEvent, Event: sample})
}

func (m *Manager) notifySample(payload Sample) {
	if !m.distributed {
		return
	}
	m.metrics.observeSamplePublish(payload.Kind)
	go m.publishSample(payload)
}

func (m *Manager) publishSample(payload Sample) {
	nd := notifySample{FromNode: m.self, Nonce: m.nextSampleNonce(), Payload: payload}
	encoded, err := m.codec.encode(nd.Payload)
	if err != nil {
		m.cfg.logger.Log(LogLevelError, "publishSample: encoding failed", "err", err)
		return
	}

	var header [12]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(nd.FromNode))
	binary.BigEndian.PutUint64(header[4:12], nd.Nonce)
	full := append(header[:], encoded...)

	key := sampleEntryKey(full)
	if err := m.dataCell.Put(m.ctx, key, full); err != nil {
		m.cfg.logger.Log(LogLevelError, "publishSample: bus insert failed", "err", &SubstrateUnavailable{Op: "data bus insert", Err: err})
	}
}

func (m *Manager) nextSampleNonce() uint64 {
	m.sampleSeqMu.Lock()
	defer m.sampleSeqMu.Unlock()
	m.sampleSeq++
	return m.sampleSeq
}

// onDataEntryCreated is the entryCreated handler for the "data" cell,
// invoked on every node (spec.md §4.7).
func (m *Manager) onDataEntryCreated(key string, value []byte) {
	fromNode, payload, err := m.decodeSampleEntry(value)
	if err != nil {
		m.cfg.logger.Log(LogLevelError, "onDataEntryCreated: decode failed", "err", err)
		return
	}

	if fromNode == m.self {
		// The sender GCs its own broadcast and does nothing else
		// (spec.md §4.7): it already evaluated locally or chose not to.
		if err := m.dataCell.Delete(m.ctx, key); err != nil {
			m.cfg.logger.Log(LogLevelWarn, "onDataEntryCreated: failed to GC own entry", "err", err)
		}
		return
	}

	m.metrics.observeSampleDelivery(payload.Kind)
	m.callDataListener(payload)
}

func (m *Manager) decodeSampleEntry(value []byte) (NodeId, Sample, error) {
	if len(value) < 12 {
		return 0, Sample{}, fmt.Errorf("partman: data bus entry too short: %d bytes", len(value))
	}
	fromNode := NodeId(binary.BigEndian.Uint32(value[0:4]))
	payload, err := m.codec.decode(value[12:])
	if err != nil {
		return 0, Sample{}, err
	}
	return fromNode, payload, nil
}
