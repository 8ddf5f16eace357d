// Package barcode wraps several independent QR decoding libraries behind a
// single Decoder interface and runs them as a cost-ordered cascade.
//
// Backends:
//
//	goqr         finder pattern + Reed-Solomon (quirc port)
//	zxing-qr     ZXing QR reader with TRY_HARDER
//	zxing-multi  ZXing 2D multi-symbology scanner (QR, Data Matrix, Aztec)
//	tuotoo       independent pure Go reference decoder
//	opencv       OpenCV QRCodeDetector, requires -tags=opencv and cgo
//
// The opencv backend reports ErrUnavailable in default builds and is left
// out of the cascade.
package barcode
