// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Package mbclient implements a Modbus-TCP client used by this module's
// active-probe tooling. It exists so cmd/tcpprobe can speak Modbus-TCP
// to a real slave using the same request/response shapes the rest of
// the module decodes off the wire, and is otherwise a standalone
// library: it never runs as a server and is not part of the passive
// wiretap pipeline.
package mbclient

import (
	"context"
	"fmt"
)

const (
	// Function codes defined in the Modbus specification, section 5.
	FuncCodeReadCoils                  = 1
	FuncCodeReadDiscreteInputs         = 2
	FuncCodeReadHoldingRegisters       = 3
	FuncCodeReadInputRegisters         = 4
	FuncCodeWriteSingleCoil            = 5
	FuncCodeWriteSingleRegister        = 6
	FuncCodeReadExceptionStatus        = 7
	FuncCodeWriteMultipleCoils         = 15
	FuncCodeWriteMultipleRegisters     = 16
	FuncCodeReadWriteMultipleRegisters = 23
	FuncCodeMaskWriteRegister          = 22
	FuncCodeReadFIFOQueue              = 24

	// Exception codes defined in the Modbus specification, section 7.
	ExceptionCodeIllegalFunction                    = 1
	ExceptionCodeIllegalDataAddress                 = 2
	ExceptionCodeIllegalDataValue                   = 3
	ExceptionCodeServerDeviceFailure                = 4
	ExceptionCodeAcknowledge                        = 5
	ExceptionCodeServerDeviceBusy                   = 6
	ExceptionCodeMemoryParityError                  = 8
	ExceptionCodeGatewayPathUnavailable             = 10
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 11
)

// Sentinel errors classifying why an exchange failed, wrapped with
// %w so callers can errors.Is against them.
var (
	ErrInvalidQuantity = fmt.Errorf("modbus: invalid quantity")
	ErrInvalidData     = fmt.Errorf("modbus: invalid data")
	ErrInvalidResponse = fmt.Errorf("modbus: invalid response")
	ErrShortFrame      = fmt.Errorf("modbus: frame too short")
	ErrProtocolError   = fmt.Errorf("modbus: protocol error")
)

// ProtocolDataUnit is a Modbus PDU: function code plus its associated
// data, independent of which transport framed it.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// ModbusError implements error interface.
// It is returned when a server responds with an exception code.
type ModbusError struct {
	FunctionCode  byte
	ExceptionCode byte
}

// Error converts known modbus exception code to error message.
func (e *ModbusError) Error() string {
	name, ok := map[byte]string{
		ExceptionCodeIllegalFunction:                    "illegal function",
		ExceptionCodeIllegalDataAddress:                 "illegal data address",
		ExceptionCodeIllegalDataValue:                   "illegal data value",
		ExceptionCodeServerDeviceFailure:                "server device failure",
		ExceptionCodeAcknowledge:                        "acknowledge",
		ExceptionCodeServerDeviceBusy:                   "server device busy",
		ExceptionCodeMemoryParityError:                  "memory parity error",
		ExceptionCodeGatewayPathUnavailable:             "gateway path unavailable",
		ExceptionCodeGatewayTargetDeviceFailedToRespond: "gateway target device failed to respond",
	}[e.ExceptionCode]
	if !ok {
		name = "unknown"
	}
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.ExceptionCode, name, e.FunctionCode)
}

// Packager specifies the behavior to encode/decode an ADU (Application
// Data Unit around a PDU) and to verify a response ADU against the
// request ADU that produced it.
type Packager interface {
	Encode(pdu *ProtocolDataUnit) (adu []byte, err error)
	Decode(adu []byte) (pdu *ProtocolDataUnit, err error)
	Verify(aduRequest []byte, aduResponse []byte) (err error)
}

// Transporter specifies the behavior to send an ADU over a connection
// and receive the corresponding response ADU.
type Transporter interface {
	Send(ctx context.Context, aduRequest []byte) (aduResponse []byte, err error)
}

// Client is the complete set of Modbus data-access functions.
type Client interface {
	// Bit access

	// ReadCoils reads from 1 to 2000 contiguous status of coils in a
	// remote device and returns coil status.
	ReadCoils(ctx context.Context, address, quantity uint16) (results []byte, err error)
	// ReadDiscreteInputs reads from 1 to 2000 contiguous status of
	// discrete inputs in a remote device and returns input status.
	ReadDiscreteInputs(ctx context.Context, address, quantity uint16) (results []byte, err error)
	// WriteSingleCoil writes a single output to either ON or OFF in a
	// remote device and returns output value.
	WriteSingleCoil(ctx context.Context, address, value uint16) (results []byte, err error)
	// WriteMultipleCoils forces each coil in a sequence of coils to
	// either ON or OFF in a remote device and returns quantity of
	// outputs.
	WriteMultipleCoils(ctx context.Context, address, quantity uint16, value []byte) (results []byte, err error)

	// 16-bit access

	// ReadHoldingRegisters reads the contents of a contiguous block of
	// holding registers in a remote device and returns register value.
	ReadHoldingRegisters(ctx context.Context, address, quantity uint16) (results []byte, err error)
	// ReadInputRegisters reads from 1 to 125 contiguous input registers
	// in a remote device and returns input registers.
	ReadInputRegisters(ctx context.Context, address, quantity uint16) (results []byte, err error)
	// WriteSingleRegister writes a single holding register in a remote
	// device and returns register value.
	WriteSingleRegister(ctx context.Context, address, value uint16) (results []byte, err error)
	// WriteMultipleRegisters writes a block of contiguous registers
	// (1 to 123) in a remote device and returns quantity of registers.
	WriteMultipleRegisters(ctx context.Context, address, quantity uint16, value []byte) (results []byte, err error)
	// ReadWriteMultipleRegisters performs a combination of one read
	// operation and one write operation.
	ReadWriteMultipleRegisters(ctx context.Context, readAddress, readQuantity, writeAddress, writeQuantity uint16, value []byte) (results []byte, err error)
	// MaskWriteRegister modifies the contents of a specified holding
	// register using a combination of an AND mask, an OR mask, and the
	// register's current contents.
	MaskWriteRegister(ctx context.Context, address, andMask, orMask uint16) (results []byte, err error)
	// ReadFIFOQueue reads the contents of a First-In-First-Out (FIFO)
	// queue of register in a remote device.
	ReadFIFOQueue(ctx context.Context, address uint16) (results []byte, err error)
}
