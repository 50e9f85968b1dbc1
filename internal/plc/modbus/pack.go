// internal/plc/modbus/pack.go
package modbus

import "fmt"

// ---- helpers (pure geometry) ----

func unpackBitsChecked(data []byte, count int) ([]bool, error) {
	if len(data) < (count+7)/8 {
		return nil, fmt.Errorf("modbus: bit payload %d bytes, want %d", len(data), (count+7)/8)
	}
	return unpackBits(data, count), nil
}

func unpackRegistersChecked(data []byte, count int) ([]uint16, error) {
	if len(data) != 2*count {
		return nil, fmt.Errorf("modbus: register payload %d bytes, want %d", len(data), 2*count)
	}
	return unpackRegisters(data), nil
}

// unpackBits expands LSB-first packed bits.
func unpackBits(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		byteIdx := i / 8
		if byteIdx >= len(data) {
			break
		}
		out[i] = data[byteIdx]&(1<<(i%8)) != 0
	}
	return out
}

// unpackRegisters decodes big-endian registers.
func unpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}

func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, v := range bits {
		if v {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// Modbus register memory order (BIG-ENDIAN)
func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
