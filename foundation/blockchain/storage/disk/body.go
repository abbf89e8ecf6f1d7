package disk

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
)

func encodeBody(extrinsics []hexutil.Bytes) ([]byte, error) {
	return rlp.EncodeToBytes(extrinsics)
}

func decodeBody(data []byte) ([]hexutil.Bytes, error) {
	var extrinsics []hexutil.Bytes
	if err := rlp.DecodeBytes(data, &extrinsics); err != nil {
		return nil, err
	}
	return extrinsics, nil
}
