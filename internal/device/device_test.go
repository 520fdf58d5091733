package device

import (
	"context"
	"fmt"
	"testing"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type psuHandle struct {
	voltageErr error
	present    bool
	presentErr error
}

func (psuHandle) Name() string { return "PSU_0" }

func (p psuHandle) Voltage(context.Context) (float64, error) { return 12.1, p.voltageErr }

func (psuHandle) Current(context.Context) (float64, error) { return 17.5, nil }

func (p psuHandle) Presence(context.Context) (bool, error) { return p.present, p.presentErr }

type fanHandle struct{}

func (fanHandle) Name() string { return "FAN_0" }

func (fanHandle) Speed(context.Context) (int, error) { return 4200, nil }

type slowHandle struct{}

func (slowHandle) Name() string { return "SLOW" }

func (slowHandle) Temperature(context.Context) (float64, error) {
	time.Sleep(time.Second)
	return 40, nil
}

type bareHandle struct{}

func (bareHandle) Name() string { return "BARE" }

type narrowedHandle struct {
	psuHandle
}

func (narrowedHandle) Supports(attr Attribute) bool { return attr == AttrCurrent }

func TestAttributes(t *testing.T) {
	tests := []struct {
		name string
		dev  Device
		want []Attribute
	}{
		{"psu", psuHandle{}, []Attribute{AttrVoltage, AttrCurrent}},
		{"fan", fanHandle{}, []Attribute{AttrSpeed}},
		{"thermal", slowHandle{}, []Attribute{AttrTemperature}},
		{"no readers", bareHandle{}, []Attribute{}},
		{"narrowed", narrowedHandle{}, []Attribute{AttrCurrent}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Attributes(tt.dev))
		})
	}
}

func TestNewEntry(t *testing.T) {
	e := NewEntry(fanHandle{})
	assert.Equal(t, "FAN_0", e.Name)
	assert.Equal(t, []Attribute{AttrSpeed}, e.Attributes)
}

func TestRead(t *testing.T) {
	ctx := context.Background()

	v, err := Read(ctx, psuHandle{}, AttrVoltage)
	require.NoError(t, err)
	assert.Equal(t, 12.1, v)

	v, err = Read(ctx, fanHandle{}, AttrSpeed)
	require.NoError(t, err)
	assert.Equal(t, 4200.0, v)

	_, err = Read(ctx, fanHandle{}, AttrVoltage)
	assert.True(t, errors.HasCode(err, ErrUnsupportedAttribute))
}

func TestReadClassifiesErrors(t *testing.T) {
	ctx := context.Background()

	_, err := Read(ctx, psuHandle{voltageErr: fmt.Errorf("pmbus nack")}, AttrVoltage)
	assert.True(t, errors.HasCode(err, ErrReadFailed))
	assert.False(t, IsNotPresent(err))

	absent := errors.New().New(ErrNotPresent)
	_, err = Read(ctx, psuHandle{voltageErr: absent}, AttrVoltage)
	assert.True(t, IsNotPresent(err))
	assert.False(t, errors.HasCode(err, ErrReadFailed))
}

func TestReadTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Read(ctx, slowHandle{}, AttrTemperature)

	assert.True(t, errors.HasCode(err, ErrReadTimeout))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestReadWithDoneContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Read(ctx, psuHandle{}, AttrVoltage)
	assert.True(t, errors.HasCode(err, ErrReadTimeout))
}

func TestIsPresent(t *testing.T) {
	ctx := context.Background()

	present, err := IsPresent(ctx, fanHandle{})
	require.NoError(t, err)
	assert.True(t, present, "handles without presence reader are present")

	present, err = IsPresent(ctx, psuHandle{present: true})
	require.NoError(t, err)
	assert.True(t, present)

	present, err = IsPresent(ctx, psuHandle{present: false})
	require.NoError(t, err)
	assert.False(t, present)

	present, err = IsPresent(ctx, psuHandle{present: true, presentErr: errors.New().New(ErrNotPresent)})
	require.NoError(t, err)
	assert.False(t, present)

	_, err = IsPresent(ctx, psuHandle{presentErr: fmt.Errorf("bus error")})
	assert.True(t, errors.HasCode(err, ErrReadFailed))
}

func TestParseCategory(t *testing.T) {
	for _, c := range AllCategories {
		got, err := ParseCategory(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := ParseCategory("led")
	assert.True(t, errors.HasCode(err, ErrUnknownCategory))
}
