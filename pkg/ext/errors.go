package ext

import "fmt"

// Errno is a POSIX errno as surfaced by image access operations.
// The numeric values follow Linux, including the historical aliases:
// EWOULDBLOCK shares 11 with EAGAIN and EDEADLOCK shares 35 with
// EDEADLK. Codes 41 and 58 do not exist.
type Errno uint32

const (
	EPERM           Errno = 1
	ENOENT          Errno = 2
	ESRCH           Errno = 3
	EINTR           Errno = 4
	EIO             Errno = 5
	ENXIO           Errno = 6
	E2BIG           Errno = 7
	ENOEXEC         Errno = 8
	EBADF           Errno = 9
	ECHILD          Errno = 10
	EAGAIN          Errno = 11
	EWOULDBLOCK     Errno = 11
	ENOMEM          Errno = 12
	EACCES          Errno = 13
	EFAULT          Errno = 14
	ENOTBLK         Errno = 15
	EBUSY           Errno = 16
	EEXIST          Errno = 17
	EXDEV           Errno = 18
	ENODEV          Errno = 19
	ENOTDIR         Errno = 20
	EISDIR          Errno = 21
	EINVAL          Errno = 22
	ENFILE          Errno = 23
	EMFILE          Errno = 24
	ENOTTY          Errno = 25
	ETXTBSY         Errno = 26
	EFBIG           Errno = 27
	ENOSPC          Errno = 28
	ESPIPE          Errno = 29
	EROFS           Errno = 30
	EMLINK          Errno = 31
	EPIPE           Errno = 32
	EDOM            Errno = 33
	ERANGE          Errno = 34
	EDEADLK         Errno = 35
	EDEADLOCK       Errno = 35
	ENAMETOOLONG    Errno = 36
	ENOLCK          Errno = 37
	ENOSYS          Errno = 38
	ENOTEMPTY       Errno = 39
	ELOOP           Errno = 40
	ENOMSG          Errno = 42
	EIDRM           Errno = 43
	ECHRNG          Errno = 44
	EL2NSYNC        Errno = 45
	EL3HLT          Errno = 46
	EL3RST          Errno = 47
	ELNRNG          Errno = 48
	EUNATCH         Errno = 49
	ENOCSI          Errno = 50
	EL2HLT          Errno = 51
	EBADE           Errno = 52
	EBADR           Errno = 53
	EXFULL          Errno = 54
	ENOANO          Errno = 55
	EBADRQC         Errno = 56
	EBADSLT         Errno = 57
	EBFONT          Errno = 59
	ENOSTR          Errno = 60
	ENODATA         Errno = 61
	ETIME           Errno = 62
	ENOSR           Errno = 63
	ENONET          Errno = 64
	ENOPKG          Errno = 65
	EREMOTE         Errno = 66
	ENOLINK         Errno = 67
	EADV            Errno = 68
	ESRMNT          Errno = 69
	ECOMM           Errno = 70
	EPROTO          Errno = 71
	EMULTIHOP       Errno = 72
	EDOTDOT         Errno = 73
	EBADMSG         Errno = 74
	EOVERFLOW       Errno = 75
	ENOTUNIQ        Errno = 76
	EBADFD          Errno = 77
	EREMCHG         Errno = 78
	ELIBACC         Errno = 79
	ELIBBAD         Errno = 80
	ELIBSCN         Errno = 81
	ELIBMAX         Errno = 82
	ELIBEXEC        Errno = 83
	EILSEQ          Errno = 84
	ERESTART        Errno = 85
	ESTRPIPE        Errno = 86
	EUSERS          Errno = 87
	ENOTSOCK        Errno = 88
	EDESTADDRREQ    Errno = 89
	EMSGSIZE        Errno = 90
	EPROTOTYPE      Errno = 91
	ENOPROTOOPT     Errno = 92
	EPROTONOSUPPORT Errno = 93
	ESOCKTNOSUPPORT Errno = 94
	EOPNOTSUPP      Errno = 95
	ENOTSUP         Errno = 95
	EPFNOSUPPORT    Errno = 96
	EAFNOSUPPORT    Errno = 97
	EADDRINUSE      Errno = 98
	EADDRNOTAVAIL   Errno = 99
	ENETDOWN        Errno = 100
	ENETUNREACH     Errno = 101
	ENETRESET       Errno = 102
	ECONNABORTED    Errno = 103
	ECONNRESET      Errno = 104
	ENOBUFS         Errno = 105
	EISCONN         Errno = 106
	ENOTCONN        Errno = 107
	ESHUTDOWN       Errno = 108
	ETOOMANYREFS    Errno = 109
	ETIMEDOUT       Errno = 110
	ECONNREFUSED    Errno = 111
	EHOSTDOWN       Errno = 112
	EHOSTUNREACH    Errno = 113
	EALREADY        Errno = 114
	EINPROGRESS     Errno = 115
	ESTALE          Errno = 116
	EUCLEAN         Errno = 117
	ENOTNAM         Errno = 118
	ENAVAIL         Errno = 119
	EISNAM          Errno = 120
	EREMOTEIO       Errno = 121
	EDQUOT          Errno = 122
	ENOMEDIUM       Errno = 123
	EMEDIUMTYPE     Errno = 124
	ECANCELED       Errno = 125
	ENOKEY          Errno = 126
	EKEYEXPIRED     Errno = 127
	EKEYREVOKED     Errno = 128
	EKEYREJECTED    Errno = 129
	EOWNERDEAD      Errno = 130
	ENOTRECOVERABLE Errno = 131
	ERFKILL         Errno = 132
	EHWPOISON       Errno = 133
)

var errnoMessages = map[Errno]string{
	EPERM:           "Operation not permitted",
	ENOENT:          "No such file or directory",
	ESRCH:           "No such process",
	EINTR:           "Interrupted system call",
	EIO:             "Input/output error",
	ENXIO:           "Device not configured",
	E2BIG:           "Argument list too long",
	ENOEXEC:         "Exec format error",
	EBADF:           "Bad file descriptor",
	ECHILD:          "No child processes",
	EAGAIN:          "Resource temporarily unavailable",
	ENOMEM:          "Cannot allocate memory",
	EACCES:          "Permission denied",
	EFAULT:          "Bad address",
	ENOTBLK:         "Block device required",
	EBUSY:           "Device busy",
	EEXIST:          "File exists",
	EXDEV:           "Cross-device link",
	ENODEV:          "No such device",
	ENOTDIR:         "Not a directory",
	EISDIR:          "Is a directory",
	EINVAL:          "Invalid argument",
	ENFILE:          "Too many open files in system",
	EMFILE:          "Too many open files",
	ENOTTY:          "Inappropriate ioctl for device",
	ETXTBSY:         "Text file busy",
	EFBIG:           "File too large",
	ENOSPC:          "No space left on device",
	ESPIPE:          "Illegal seek",
	EROFS:           "Read-only file system",
	EMLINK:          "Too many links",
	EPIPE:           "Broken pipe",
	EDOM:            "Numerical argument out of domain",
	ERANGE:          "Result too large",
	EDEADLK:         "Resource deadlock avoided",
	ENAMETOOLONG:    "File name too long",
	ENOLCK:          "No locks available",
	ENOSYS:          "Function not implemented",
	ENOTEMPTY:       "Directory not empty",
	ELOOP:           "Too many symbolic links encountered",
	ENOMSG:          "No message of desired type",
	EIDRM:           "Identifier removed",
	ECHRNG:          "Channel number out of range",
	EL2NSYNC:        "Level 2 not synchronized",
	EL3HLT:          "Level 3 halted",
	EL3RST:          "Level 3 reset",
	ELNRNG:          "Link number out of range",
	EUNATCH:         "Device not allocated",
	ENOCSI:          "No CSI structure available",
	EL2HLT:          "Level 2 halted",
	EBADE:           "Invalid exchange",
	EBADR:           "Invalid request descriptor",
	EXFULL:          "Exchange full",
	ENOANO:          "No anode",
	EBADRQC:         "Invalid request code",
	EBADSLT:         "Invalid slot",
	EBFONT:          "Bad font file format",
	ENOSTR:          "Device not a stream",
	ENODATA:         "No data available",
	ETIME:           "Timer expired",
	ENOSR:           "No message of desired type",
	ENONET:          "Machine is not on the network",
	ENOPKG:          "Package not installed",
	EREMOTE:         "Object is remote",
	ENOLINK:         "Link has been severed",
	EADV:            "Advertise error",
	ESRMNT:          "Srmount error",
	ECOMM:           "Communication error on send",
	EPROTO:          "Protocol error",
	EMULTIHOP:       "Multihop attempted",
	EDOTDOT:         "RFS specific error",
	EBADMSG:         "Bad message",
	EOVERFLOW:       "Value too large for defined data type",
	ENOTUNIQ:        "Name not unique on network",
	EBADFD:          "File descriptor in bad state",
	EREMCHG:         "Remote address changed",
	ELIBACC:         "Can not access a needed shared library",
	ELIBBAD:         "Accessing a corrupted shared library",
	ELIBSCN:         ".lib section in a.out corrupted",
	ELIBMAX:         "Attempting to link in too many shared libraries",
	ELIBEXEC:        "Cannot exec a shared library directly",
	EILSEQ:          "Illegal byte sequence",
	ERESTART:        "Interrupted system call should be restarted",
	ESTRPIPE:        "Streams pipe error",
	EUSERS:          "Too many users",
	ENOTSOCK:        "Socket operation on non-socket",
	EDESTADDRREQ:    "Destination address required",
	EMSGSIZE:        "Message too long",
	EPROTOTYPE:      "Protocol wrong type for socket",
	ENOPROTOOPT:     "Protocol not available",
	EPROTONOSUPPORT: "Protocol not supported",
	ESOCKTNOSUPPORT: "Socket type not supported",
	EOPNOTSUPP:      "Operation not supported on transport endpoint",
	EPFNOSUPPORT:    "Protocol family not supported",
	EAFNOSUPPORT:    "Address family not supported",
	EADDRINUSE:      "Address already in use",
	EADDRNOTAVAIL:   "Cannot assign requested address",
	ENETDOWN:        "Network is down",
	ENETUNREACH:     "Network is unreachable",
	ENETRESET:       "Network dropped connection because of reset",
	ECONNABORTED:    "Software caused connection abort",
	ECONNRESET:      "Connection reset by peer",
	ENOBUFS:         "No buffer space available",
	EISCONN:         "Transport endpoint is already connected",
	ENOTCONN:        "Transport endpoint is not connected",
	ESHUTDOWN:       "Cannot send after transport endpoint shutdown",
	ETOOMANYREFS:    "Too many references: cannot splice",
	ETIMEDOUT:       "Connection timed out",
	ECONNREFUSED:    "Connection refused",
	EHOSTDOWN:       "Host is down",
	EHOSTUNREACH:    "No route to host",
	EALREADY:        "Operation already in progress",
	EINPROGRESS:     "Operation now in progress",
	ESTALE:          "Stale file handle",
	EUCLEAN:         "Structure needs cleaning",
	ENOTNAM:         "Not a XENIX named type file",
	ENAVAIL:         "No XENIX semaphores available",
	EISNAM:          "Is a named type file",
	EREMOTEIO:       "Remote I/O error",
	EDQUOT:          "Disk quota exceeded",
	ENOMEDIUM:       "No medium found",
	EMEDIUMTYPE:     "Wrong medium type",
	ECANCELED:       "Operation canceled",
	ENOKEY:          "Required key not available",
	EKEYEXPIRED:     "Key has expired",
	EKEYREVOKED:     "Key has been revoked",
	EKEYREJECTED:    "Key was rejected by service",
	EOWNERDEAD:      "Owner died",
	ENOTRECOVERABLE: "State not recoverable",
	ERFKILL:         "Operation not possible due to RF-kill",
	EHWPOISON:       "Memory page has hardware error",
}

func (e Errno) Error() string {
	if msg, ok := errnoMessages[e]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown error code: %d", uint32(e))
}

// extErrBase is the com_err table base for the extended status space.
// Report uses it as the threshold between the two code spaces.
const extErrBase = 2133571328

// ExtCode is an extended status code describing structural problems
// with the filesystem itself rather than an OS-level failure. Values
// are contiguous from extErrBase in table order.
type ExtCode uint32

const (
	EtBase ExtCode = extErrBase + iota
	EtMagicExt2fsFilsys
	EtMagicBadblocksList
	EtMagicBadblocksIterate
	EtMagicInodeScan
	EtMagicIoChannel
	EtMagicUnixIoChannel
	EtMagicIoManager
	EtMagicBlockBitmap
	EtMagicInodeBitmap
	EtMagicGenericBitmap
	EtMagicTestIoChannel
	EtMagicDbList
	EtMagicIcount
	EtMagicPqIoChannel
	EtMagicExt2File
	EtMagicE2Image
	EtMagicInodeIoChannel
	EtMagicExtentHandle
	EtBadMagic
	EtRevTooHigh
	EtRoFilsys
	EtGdescRead
	EtGdescWrite
	EtGdescBadBlockMap
	EtGdescBadInodeMap
	EtGdescBadInodeTable
	EtInodeBitmapWrite
	EtInodeBitmapRead
	EtBlockBitmapWrite
	EtBlockBitmapRead
	EtInodeTableWrite
	EtInodeTableRead
	EtNextInodeRead
	EtUnexpectedBlockSize
	EtDirCorrupted
	EtShortRead
	EtShortWrite
	EtDirNoSpace
	EtNoInodeBitmap
	EtNoBlockBitmap
	EtBadInodeNumber
	EtBadBlockNumber
	EtExpandDirError
	EtTooSmall
	EtBadBlockMark
	EtBadBlockUnmark
	EtBadBlockTest
	EtBadInodeMark
	EtBadInodeUnmark
	EtBadInodeTest
	EtFudgeBlockBitmapEnd
	EtFudgeInodeBitmapEnd
	EtBadIndBlock
	EtBadDindBlock
	EtBadTindBlock
	EtNeqBlockBitmap
	EtNeqInodeBitmap
	EtBadDeviceName
	EtMissingInodeTable
	EtCorruptSuperblock
	EtBadGenericMark
	EtBadGenericUnmark
	EtBadGenericTest
	EtSymlinkLoop
	EtCallbackNotHandled
	EtBadBlockInInodeTable
	EtUnsupportedFeature
	EtReadOnlyUnsupportedFeature
	EtLlseekFailed
	EtNoMemory
	EtInvalidArgument
	EtBlockAllocFail
	EtInodeAllocFail
	EtNoDirectory
	EtTooManyRefs
	EtFileNotFound
	EtFileReadOnly
	EtDbNotFound
	EtDirExists
	EtUnimplemented
	EtCancelRequested
	EtFileTooBig
	EtJournalNotBlock
	EtNoJournalSuperblock
	EtJournalTooSmall
	EtUnsupportedJournalVersion
	EtLoadExtJournal
	EtNoJournal
	EtDirhashUnsupp
	EtBadEABlockNum
	EtTooManyInodes
	EtNotImageFile
	EtResGDTBlocks
	EtResizeInodeCorrupt
	EtSetBmapNoInd
	EtTDBSuccess
	EtTDBErrCorrupt
	EtTDBErrIO
	EtTDBErrLock
	EtTDBErrOOM
	EtTDBErrExists
	EtTDBErrNoLock
	EtTDBErrEINVAL
	EtTDBErrNoExist
	EtTDBErrRDONLY
	EtDBListEmpty
	EtROBlockIterate
	EtMagicExtentPath
	EtMagicGenericBitmap64
	EtMagicBlockBitmap64
	EtMagicInodeBitmap64
	EtMagicReserved13
	EtMagicReserved14
	EtMagicReserved15
	EtMagicReserved16
	EtMagicReserved17
	EtMagicReserved18
	EtMagicReserved19
	EtExtentHeaderBad
	EtExtentIndexBad
	EtExtentLeafBad
	EtExtentNoSpace
	EtInodeNotExtent
	EtExtentNoNext
	EtExtentNoPrev
	EtExtentNoUp
	EtExtentNoDown
	EtNoCurrentNode
	EtOpNotSupported
	EtCantInsertExtent
	EtCantSplitExtent
	EtExtentNotFound
	EtExtentNotSupported
	EtExtentInvalidLength
	EtIoChannelNoSupport64
	EtNoMtabFile
	EtCantUseLegacyBitmaps
	EtMmpMagicInvalid
	EtMmpFailed
	EtMmpFsckOn
	EtMmpBadBlock
	EtMmpUnknownSeq
	EtMmpChangeAbort
	EtMmpOpenDirect
	EtBadDescSize
	EtInodeCsumInvalid
	EtInodeBitmapCsumInvalid
	EtExtentCsumInvalid
	EtDirNoSpaceForCsum
	EtDirCsumInvalid
	EtExtAttrCsumInvalid
	EtSbCsumInvalid
	EtUnknownCsum
	EtMmpCsumInvalid
	EtFileExists
	EtBlockBitmapCsumInvalid
	EtInlineDataCantIterate
	EtEaBadNameLen
	EtEaBadValueSize
	EtBadEaHash
	EtBadEAHeader
	EtEAKeyNotFound
	EtEANoSpace
	EtMissingEAFeature
	EtNoInlineData
	EtInlineDataNoBlock
	EtInlineDataNoSpace
	EtMagicEAHandle
	EtInodeIsGarbage
	EtEABadValueOffset
	EtJournalFlagsWrong
	EtUndoFileCorrupt
	EtUndoFileWrong
	EtFileSystemCorrupted
	EtBadCRC
	EtCorruptJournalSB
	EtInodeCorrupted
	EtEAInodeCorrupted
	EtNoGdesc
	EtFilsysCorrupted
	EtExtentCycle
	EtExternalJournalNoSupport
)

var extMessages = [...]string{
	"EXT2FS Library version @E2FSPROGS_VERSION@",
	"Wrong magic number for ext2_filsys structure",
	"Wrong magic number for badblocks_list structure",
	"Wrong magic number for badblocks_iterate structure",
	"Wrong magic number for inode_scan structure",
	"Wrong magic number for io_channel structure",
	"Wrong magic number for unix io_channel structure",
	"Wrong magic number for io_manager structure",
	"Wrong magic number for block_bitmap structure",
	"Wrong magic number for inode_bitmap structure",
	"Wrong magic number for generic_bitmap structure",
	"Wrong magic number for test io_channel structure",
	"Wrong magic number for directory block list structure",
	"Wrong magic number for icount structure",
	"Wrong magic number for Powerquest io_channel structure",
	"Wrong magic number for ext2 file structure",
	"Wrong magic number for Ext2 Image Header",
	"Wrong magic number for inode io_channel structure",
	"Wrong magic number for ext4 extent handle",
	"Bad magic number in super-block",
	"Filesystem revision too high",
	"Attempt to write to filesystem opened read-only",
	"Can't read group descriptors",
	"Can't write group descriptors",
	"Corrupt group descriptor: bad block for block bitmap",
	"Corrupt group descriptor: bad block for inode bitmap",
	"Corrupt group descriptor: bad block for inode table",
	"Can't write an inode bitmap",
	"Can't read an inode bitmap",
	"Can't write a block bitmap",
	"Can't read a block bitmap",
	"Can't write an inode table",
	"Can't read an inode table",
	"Can't read next inode",
	"Filesystem has unexpected block size",
	"EXT2 directory corrupted",
	"Attempt to read block from filesystem resulted in short read",
	"Attempt to write block to filesystem resulted in short write",
	"No free space in the directory",
	"Inode bitmap not loaded",
	"Block bitmap not loaded",
	"Illegal inode number",
	"Illegal block number",
	"Internal error in ext2fs_expand_dir",
	"Not enough space to build proposed filesystem",
	"Illegal block number passed to ext2fs_mark_block_bitmap",
	"Illegal block number passed to ext2fs_unmark_block_bitmap",
	"Illegal block number passed to ext2fs_test_block_bitmap",
	"Illegal inode number passed to ext2fs_mark_inode_bitmap",
	"Illegal inode number passed to ext2fs_unmark_inode_bitmap",
	"Illegal inode number passed to ext2fs_test_inode_bitmap",
	"Attempt to fudge end of block bitmap past the real end",
	"Attempt to fudge end of inode bitmap past the real end",
	"Illegal indirect block found",
	"Illegal doubly indirect block found",
	"Illegal triply indirect block found",
	"Block bitmaps are not the same",
	"Inode bitmaps are not the same",
	"Illegal or malformed device name",
	"A block group is missing an inode table",
	"The ext2 superblock is corrupt",
	"Illegal generic bit number passed to ext2fs_mark_generic_bitmap",
	"Illegal generic bit number passed to ext2fs_unmark_generic_bitmap",
	"Illegal generic bit number passed to ext2fs_test_generic_bitmap",
	"Too many symbolic links encountered.",
	"The callback function will not handle this case",
	"The inode is from a bad block in the inode table",
	"Filesystem has unsupported feature(s)",
	"Filesystem has unsupported read-only feature(s)",
	"IO Channel failed to seek on read or write",
	"Memory allocation failed",
	"Invalid argument passed to ext2 library",
	"Could not allocate block in ext2 filesystem",
	"Could not allocate inode in ext2 filesystem",
	"Ext2 inode is not a directory",
	"Too many references in table",
	"File not found by ext2_lookup",
	"File open read-only",
	"Ext2 directory block not found",
	"Ext2 directory already exists",
	"Unimplemented ext2 library function",
	"User cancel requested",
	"Ext2 file too big",
	"Supplied journal device not a block device",
	"Journal superblock not found",
	"Journal must be at least 1024 blocks",
	"Unsupported journal version",
	"Error loading external journal",
	"Journal not found",
	"Directory hash unsupported",
	"Illegal extended attribute block number",
	"Cannot create filesystem with requested number of inodes",
	"E2image snapshot not in use",
	"Too many reserved group descriptor blocks",
	"Resize inode is corrupt",
	"Tried to set block bmap with missing indirect block",
	"TDB: Success",
	"TDB: Corrupt database",
	"TDB: IO Error",
	"TDB: Locking error",
	"TDB: Out of memory",
	"TDB: Record exists",
	"TDB: Lock exists on other keys",
	"TDB: Invalid parameter",
	"TDB: Record does not exist",
	"TDB: Write not permitted",
	"Ext2fs directory block list is empty",
	"Attempt to modify a block mapping via a read-only block iterator",
	"Wrong magic number for ext4 extent saved path",
	"Wrong magic number for 64-bit generic bitmap",
	"Wrong magic number for 64-bit block bitmap",
	"Wrong magic number for 64-bit inode bitmap",
	"Wrong magic number --- RESERVED_13",
	"Wrong magic number --- RESERVED_14",
	"Wrong magic number --- RESERVED_15",
	"Wrong magic number --- RESERVED_16",
	"Wrong magic number --- RESERVED_17",
	"Wrong magic number --- RESERVED_18",
	"Wrong magic number --- RESERVED_19",
	"Corrupt extent header",
	"Corrupt extent index",
	"Corrupt extent",
	"No free space in extent map",
	"Inode does not use extents",
	"No 'next' extent",
	"No 'previous' extent",
	"No 'up' extent",
	"No 'down' extent",
	"No current node",
	"Ext2fs operation not supported",
	"No room to insert extent in node",
	"Splitting would result in empty node",
	"Extent not found",
	"Operation not supported for inodes containing extents",
	"Extent length is invalid",
	"I/O Channel does not support 64-bit block numbers",
	"Can't check if filesystem is mounted due to missing mtab file",
	"Filesystem too large to use legacy bitmaps",
	"MMP: invalid magic number",
	"MMP: device currently active",
	"MMP: e2fsck being run",
	"MMP: block number beyond filesystem range",
	"MMP: undergoing an unknown operation",
	"MMP: filesystem still in use",
	"MMP: open with O_DIRECT failed",
	"Block group descriptor size incorrect",
	"Inode checksum does not match inode",
	"Inode bitmap checksum does not match bitmap",
	"Extent block checksum does not match extent block",
	"Directory block does not have space for checksum",
	"Directory block checksum does not match directory block",
	"Extended attribute block checksum does not match block",
	"Superblock checksum does not match superblock",
	"Unknown checksum algorithm",
	"MMP block checksum does not match",
	"Ext2 file already exists",
	"Block bitmap checksum does not match bitmap",
	"Cannot iterate data blocks of an inode containing inline data",
	"Extended attribute has an invalid name length",
	"Extended attribute has an invalid value length",
	"Extended attribute has an incorrect hash",
	"Extended attribute block has a bad header",
	"Extended attribute key not found",
	"Insufficient space to store extended attribute data",
	"Filesystem is missing ext_attr or inline_data feature",
	"Inode doesn't have inline data",
	"No block for an inode with inline data",
	"No free space in inline data",
	"Wrong magic number for extended attribute structure",
	"Inode seems to contain garbage",
	"Extended attribute has an invalid value offset",
	"Journal flags inconsistent",
	"Undo file corrupt",
	"Wrong undo file for this filesystem",
	"File system is corrupted",
	"Bad CRC detected in file system",
	"The journal superblock is corrupt",
	"Inode is corrupted",
	"Inode containing extended attribute value is corrupted",
	"Group descriptors not loaded",
	"The internal ext2_filsys data structure appears to be corrupted",
	"Found cyclic loop in extent tree",
	"Operation not supported on an external journal",
}

func (e ExtCode) Error() string {
	idx := uint32(e) - extErrBase
	if int(idx) < len(extMessages) {
		return extMessages[idx]
	}
	return fmt.Sprintf("Unknown error code: %d", uint32(e))
}

// Report converts a raw status code into a typed error. Codes at or
// above extErrBase belong to the extended table, everything else is
// treated as an errno. Zero is success.
func Report(code int64) error {
	if code == 0 {
		return nil
	}
	if code >= extErrBase {
		return ExtCode(code)
	}
	return Errno(code)
}
