package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umi3d/umisync/internal/core/dto"
	"github.com/umi3d/umisync/internal/core/operation"
	"github.com/umi3d/umisync/internal/transport"
)

func run(t *testing.T, stdin []byte, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(bytes.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, nil, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestDecodeTransaction(t *testing.T) {
	tx := operation.NewTransaction(true,
		operation.Load(dto.NewEntityDto(10, dto.DtypeNode)),
		operation.Set(10, 1, dto.Bool(true)),
	)
	out, err := run(t, tx.ToBytes(), "decode")
	require.NoError(t, err)

	var got operation.TransactionDto
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	back, err := operation.TransactionFromDto(&got)
	require.NoError(t, err)
	assert.Equal(t, 2, back.Len())
	assert.True(t, back.Reliable)
}

func TestDecodeHexSingleOperation(t *testing.T) {
	op := operation.Delete(7)
	out, err := run(t, []byte(hex.EncodeToString(op.Bytable().ToBytes())+"\n"), "decode", "--hex")
	require.NoError(t, err)

	var got operation.Dto
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, operation.DtypeDeleteEntity, got.Dtype)
}

func TestDecodeFrame(t *testing.T) {
	tx := operation.NewTransaction(false, operation.Delete(3))
	frame := transport.EncodeFrame(transport.NewFrame(tx.ToBytes(), false, false))
	out, err := run(t, frame, "decode", "--frame")
	require.NoError(t, err)
	assert.Contains(t, out, operation.DtypeTransaction)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := run(t, []byte{0xFF}, "decode")
	assert.Error(t, err)
}
