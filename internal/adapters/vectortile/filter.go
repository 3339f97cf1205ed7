package vectortile

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from the vector tile schema.
const (
	tileLayers      protowire.Number = 3
	layerFeatures   protowire.Number = 2
	featureType     protowire.Number = 3
	featureGeometry protowire.Number = 4
)

// dropUnknownFeatures rewrites a tile so that every feature left in it has a
// point, line or polygon type and a geometry. Without this a single feature
// of another type fails the whole tile in mvt.Unmarshal. The input is
// returned as is when nothing was dropped.
func dropUnknownFeatures(data []byte) ([]byte, int, error) {
	var (
		out     []byte
		dropped int
	)
	err := eachField(data, func(num protowire.Number, typ protowire.Type, raw, value []byte) {
		if num != tileLayers || typ != protowire.BytesType {
			out = append(out, raw...)
			return
		}
		layer, n, err := filterLayer(value)
		if err != nil {
			out = append(out, raw...)
			return
		}
		dropped += n
		out = protowire.AppendTag(out, tileLayers, protowire.BytesType)
		out = protowire.AppendBytes(out, layer)
	})
	if err != nil {
		return nil, 0, err
	}
	if dropped == 0 {
		return data, 0, nil
	}
	return out, dropped, nil
}

func filterLayer(data []byte) ([]byte, int, error) {
	out := make([]byte, 0, len(data))
	dropped := 0
	err := eachField(data, func(num protowire.Number, typ protowire.Type, raw, value []byte) {
		if num == layerFeatures && typ == protowire.BytesType && !knownFeature(value) {
			dropped++
			return
		}
		out = append(out, raw...)
	})
	return out, dropped, err
}

func knownFeature(data []byte) bool {
	var geomType uint64
	hasGeometry := false
	err := eachField(data, func(num protowire.Number, typ protowire.Type, _, value []byte) {
		switch {
		case num == featureType && typ == protowire.VarintType:
			geomType, _ = protowire.ConsumeVarint(value)
		case num == featureGeometry && typ == protowire.BytesType:
			hasGeometry = len(value) > 0
		}
	})
	return err == nil && hasGeometry && geomType >= 1 && geomType <= 3
}

// eachField walks the top-level fields of a message. raw is the whole field
// including its tag. value is the payload for length-delimited fields and the
// encoded varint for varint fields.
func eachField(data []byte, fn func(num protowire.Number, typ protowire.Type, raw, value []byte)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		m := protowire.ConsumeFieldValue(num, typ, data[n:])
		if m < 0 {
			return protowire.ParseError(m)
		}
		value := data[n : n+m]
		if typ == protowire.BytesType {
			v, k := protowire.ConsumeBytes(value)
			if k < 0 {
				return protowire.ParseError(k)
			}
			value = v
		}
		fn(num, typ, data[:n+m], value)
		data = data[n+m:]
	}
	return nil
}
