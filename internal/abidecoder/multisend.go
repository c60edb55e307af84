package abidecoder

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// DecodeMultiSend parses the packed encoding MultiSend.multiSend(bytes)
// receives: a concatenation of (operation uint8 | to address | value
// uint256 | dataLength uint256 | data), repeated with no padding between
// entries. Mirrors the original service's tx_decoder.py _decode_multisend.
// Each entry's own calldata is decoded one level through Decode; an entry
// that is itself a multiSend call gets a DataDecoded whose transactions
// parameter holds the inner batch as undecoded bytes.
func DecodeMultiSend(packed []byte) ([]domain.MultiSendOperation, error) {
	var out []domain.MultiSendOperation
	offset := 0
	for offset < len(packed) {
		const headerLen = 1 + 20 + 32 + 32
		if offset+headerLen > len(packed) {
			return nil, fmt.Errorf("multisend: truncated entry header at offset %d", offset)
		}

		opByte := packed[offset]
		to := common.BytesToAddress(packed[offset+1 : offset+21])
		value := new(big.Int).SetBytes(packed[offset+21 : offset+53])
		dataLen := binary.BigEndian.Uint64(packed[offset+53+24 : offset+85])

		dataStart := offset + headerLen
		dataEnd := dataStart + int(dataLen)
		if dataEnd > len(packed) {
			return nil, fmt.Errorf("multisend: truncated entry data at offset %d", offset)
		}
		data := packed[dataStart:dataEnd]

		op := domain.OperationCall
		if opByte == 1 {
			op = domain.OperationDelegateCall
		}

		entry := domain.MultiSendOperation{
			To:        to,
			Value:     value,
			Data:      data,
			Operation: op,
		}
		if decoded, err := Decode(data); err == nil && decoded.Known() {
			entry.DataDecoded = &decoded
		}
		out = append(out, entry)

		offset = dataEnd
	}
	return out, nil
}
